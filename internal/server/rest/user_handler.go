package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/payload"
)

type UserHandler struct {
	auth      AuthService
	recovery  RecoveryService
	exchange  KeyExchange
	decryptor Decryptor
	now       func() time.Time
	logger    logging.Logger
}

func NewUserHandler(auth AuthService, recovery RecoveryService, exchange KeyExchange, decryptor Decryptor,
	logger logging.Logger) *UserHandler {
	return &UserHandler{
		auth:      auth,
		recovery:  recovery,
		exchange:  exchange,
		decryptor: decryptor,
		now:       time.Now,
		logger:    logger.With("module", "rest_user"),
	}
}

// Register mounts the public user routes. Routes needing a session are
// mounted by RegisterSession, register itself needs client credentials and is
// mounted by RegisterClient.
func (h *UserHandler) Register(r chi.Router) {
	r.Post("/v1/user/login", h.HandleLogin)
	r.Post("/v1/user/verify-credential", h.HandleVerifyCredential)
	r.Post("/v1/user/forgot-password/request", h.HandleRequestForgotPassword)
	r.Post("/v1/user/forgot-password/confirm", h.HandleConfirmForgotPassword)
	r.Post("/v1/user/reset-mfa/request", h.HandleRequestResetMfa)
	r.Post("/v1/user/reset-mfa/confirm", h.HandleConfirmResetMfa)
}

func (h *UserHandler) RegisterClient(r chi.Router) {
	r.Post("/v1/user/register", h.HandleRegister)
}

func (h *UserHandler) RegisterSession(r chi.Router) {
	r.Get("/v1/user/my-key", h.HandleMyKey)
	r.Post("/v1/user/request-key", h.HandleRequestKey)
}

// readMasterForm decodes the body into v and opens the listed fields.
func (h *UserHandler) readMasterForm(w http.ResponseWriter, r *http.Request, v any, fields ...*string) bool {
	if err := decode(w, r, v); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return false
	}
	if err := h.decryptor.OpenMasterFields(fields...); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return false
	}
	return true
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.readMasterForm(w, r, &req, &req.Username, &req.Email, &req.Password) {
		return
	}
	u, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Register success", map[string]string{"id": u.ID})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.readMasterForm(w, r, &req, &req.Username, &req.Password, &req.TOTP) {
		return
	}
	sess, err := h.auth.Login(r.Context(), req.Username, req.Password, req.TOTP)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Login success", map[string]string{"accessToken": sess.Token})
}

type credentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *UserHandler) HandleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !h.readMasterForm(w, r, &req, &req.Username, &req.Password) {
		return
	}
	url, err := h.auth.VerifyCredential(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if url != "" {
		writeOK(w, "Setup 2FA success", map[string]string{"qrCodeUrl": url})
		return
	}
	writeOK(w, "Verify success", nil)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *UserHandler) HandleRequestForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.readMasterForm(w, r, &req, &req.Email) {
		return
	}
	token, err := h.recovery.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Request forgot password success, please check your email", map[string]string{"userId": token})
}

type resetPasswordRequest struct {
	UserID      string `json:"userId"`
	NewPassword string `json:"newPassword"`
	OTP         string `json:"otp"`
}

func (h *UserHandler) HandleConfirmForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.readMasterForm(w, r, &req, &req.UserID, &req.NewPassword, &req.OTP) {
		return
	}
	if err := h.recovery.ConfirmPasswordReset(r.Context(), req.UserID, req.OTP, req.NewPassword); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Reset password success", nil)
}

type resetMfaRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) HandleRequestResetMfa(w http.ResponseWriter, r *http.Request) {
	var req resetMfaRequest
	if !h.readMasterForm(w, r, &req, &req.Email, &req.Password) {
		return
	}
	token, err := h.recovery.RequestMfaReset(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Request reset mfa success, please check your email", map[string]string{"userId": token})
}

type confirmMfaRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

func (h *UserHandler) HandleConfirmResetMfa(w http.ResponseWriter, r *http.Request) {
	var req confirmMfaRequest
	if !h.readMasterForm(w, r, &req, &req.UserID, &req.OTP) {
		return
	}
	if err := h.recovery.ConfirmMfaReset(r.Context(), req.UserID, req.OTP); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Reset mfa success", nil)
}

func (h *UserHandler) HandleMyKey(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	secret, err := h.exchange.FetchSecretKey(r.Context(), claims)
	if err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Get my key success", map[string]string{"secretKey": secret})
}

type requestKeyRequest struct {
	Password string `json:"password"`
}

// HandleRequestKey issues a key pair and sends the private key as a file.
// The first issuance reads the password under the master transport key since
// the caller cannot hold the session secret yet; later ones require the
// request key derived from it.
func (h *UserHandler) HandleRequestKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ClaimsFrom(ctx)

	var req requestKeyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	has, err := h.exchange.HasKeyPair(ctx, claims.Username)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	if has {
		key, err := h.exchange.DeriveRequestKey(claims)
		if err != nil {
			writeError(ctx, w, h.logger, err)
			return
		}
		err = payload.OpenRequestFields(key, &req.Password)
		common.WipeByteArray(key)
		if err != nil {
			writeError(ctx, w, h.logger, err)
			return
		}
	} else if err := h.decryptor.OpenMasterFields(&req.Password); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	pemBytes, err := h.exchange.RequestKeyPair(ctx, claims, req.Password)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	name := "request_key_" + strconv.FormatInt(h.now().UnixMilli(), 10) + ".txt"
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pemBytes)
}
