package cryptox

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every symmetric key the vault uses (AES-256).
const KeySize = 32

// DeriveKEK stretches an operator password into a key-encryption key.
func DeriveKEK(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
	return x
}

// DeriveSubkey expands secret into a KeySize key bound to info.
func DeriveSubkey(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
