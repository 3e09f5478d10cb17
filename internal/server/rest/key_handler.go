package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kaytervn/msa-backend/internal/logging"
)

// KeyHandler serves the master key bootstrap. It runs without readiness or
// signature checks since nothing can be verified while locked.
type KeyHandler struct {
	keys     KeyService
	secrets  Secrets
	unlocked func() bool
	logger   logging.Logger
}

func NewKeyHandler(keys KeyService, secrets Secrets, unlocked func() bool, logger logging.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, secrets: secrets, unlocked: unlocked, logger: logger.With("module", "rest_key")}
}

func (h *KeyHandler) Register(r chi.Router) {
	r.Post("/v1/key", h.HandleInput)
	r.Post("/v1/key/clear", h.HandleClear)
}

type inputKeyRequest struct {
	Key string `json:"key"`
}

func (h *KeyHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req inputKeyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	if err := h.keys.Unlock(r.Context(), req.Key); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Input key success", nil)
}

// HandleClear locks the system. Client credentials are required while
// unlocked; clearing an already locked system succeeds.
func (h *KeyHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if h.unlocked() {
		if err := checkClient(h.secrets, r); err != nil {
			writeError(r.Context(), w, h.logger, err)
			return
		}
	}
	if err := h.keys.Lock(r.Context()); err != nil {
		writeError(r.Context(), w, h.logger, err)
		return
	}
	writeOK(w, "Clear key success", nil)
}
