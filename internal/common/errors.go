package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// service specific errors
	ErrorInternal = errors.New("internal error")

	ErrValidation        = errors.New("validation error")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrInvalidOtp        = errors.New("invalid otp")
	ErrNoKeyPair         = errors.New("no key pair requested")

	// gate errors
	ErrSystemNotReady   = errors.New("system not ready")
	ErrSystemLocked     = errors.New("system locked")
	ErrInvalidSession   = errors.New("invalid session")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnauthorized     = errors.New("unauthorized")

	// key hierarchy errors
	ErrInvalidMasterKey = errors.New("invalid master key")
	ErrCipher           = errors.New("cipher error")
)
