// Package rest exposes the vault over HTTP. Every response uses one JSON
// envelope: {success, message, data} on success and {success:false, code,
// message} on failure.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type apiError struct {
	err     error
	code    string
	status  int
	message string
}

// errorTable is matched in order. Locked-keyring failures wrap ErrCipher as
// well, so SystemLocked must come first.
var errorTable = []apiError{
	{common.ErrSystemNotReady, "SYSTEM_NOT_READY", http.StatusServiceUnavailable, "System not ready"},
	{common.ErrSystemLocked, "SYSTEM_LOCKED", http.StatusServiceUnavailable, "System locked"},
	{common.ErrInvalidSignature, "INVALID_SIGNATURE", http.StatusUnauthorized, "Invalid message signature"},
	{common.ErrInvalidSession, "INVALID_SESSION", http.StatusUnauthorized, "Invalid session"},
	{common.ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, "Full authentication is required to access this resource"},
	{common.ErrValidation, "INVALID_FORM", http.StatusBadRequest, "Invalid form"},
	{common.ErrInvalidCredential, "INVALID_CREDENTIAL", http.StatusBadRequest, "Bad credentials"},
	{common.ErrInvalidOtp, "INVALID_OTP", http.StatusBadRequest, "Invalid OTP"},
	{common.ErrInvalidPassword, "INVALID_PASSWORD", http.StatusBadRequest, "Invalid password"},
	{common.ErrInvalidMasterKey, "INVALID_MASTER_KEY", http.StatusBadRequest, "Invalid key"},
	{common.ErrNoKeyPair, "NO_KEY_PAIR", http.StatusBadRequest, "Key pair not requested"},
	{common.ErrCipher, "CIPHER_ERROR", http.StatusBadRequest, "Cannot decrypt data"},
	{common.ErrorNotFound, "NOT_FOUND", http.StatusNotFound, "Not found"},
	{common.ErrorAlreadyExists, "ALREADY_EXISTS", http.StatusConflict, "Already exists"},
}

var internalError = apiError{code: "INTERNAL_ERROR", status: http.StatusInternalServerError, message: "Internal server error"}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e
		}
	}
	return internalError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// writeError maps err to its envelope. Unknown errors are logged and
// answered with a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "request_id", middleware.GetReqID(ctx), "error", err)
	} else {
		logger.Debug(ctx, "request rejected", "request_id", middleware.GetReqID(ctx), "code", e.code, "error", err)
	}
	writeJSON(w, e.status, envelope{Success: false, Code: e.code, Message: e.message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}
