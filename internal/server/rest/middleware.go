package rest

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
	"github.com/kaytervn/msa-backend/internal/server/session"
)

type contextKeyClaims struct{}

// ClaimsFrom returns the verified token claims stored by the bearer middleware.
func ClaimsFrom(ctx context.Context) *session.Claims {
	c, _ := ctx.Value(contextKeyClaims{}).(*session.Claims)
	return c
}

// requireReady rejects requests until storage is configured and the key
// hierarchy is unlocked.
func requireReady(ready func() bool, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ready() {
				writeError(r.Context(), w, logger, common.ErrSystemNotReady)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireSignature(guard SignatureGuard, logger logging.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := guard.Verify(r.Header.Get(common.SignatureHeaderName), r.Header.Get(common.TimestampHeaderName))
			if err != nil {
				m.IncSignatureRejections()
				logger.Warn(r.Context(), "signature rejected", "path", r.URL.Path, "error", err)
				writeError(r.Context(), w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireBearer(verifier SessionVerifier, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get(common.AuthorizationHeaderName), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(r.Context(), w, logger, common.ErrUnauthorized)
				return
			}
			claims, err := verifier.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				writeError(r.Context(), w, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyClaims{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// checkClient verifies Basic client credentials against the sealed
// CLIENT_ID and CLIENT_SECRET.
func checkClient(secrets Secrets, r *http.Request) error {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return common.ErrUnauthorized
	}
	wantID, err := secrets.ConfigValue(common.ConfigClientID)
	if err != nil {
		return err
	}
	wantSecret, err := secrets.ConfigValue(common.ConfigClientSecret)
	if err != nil {
		return err
	}
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(wantID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(wantSecret)) == 1
	if !idOK || !secretOK {
		return common.ErrUnauthorized
	}
	return nil
}

func requireBasic(secrets Secrets, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checkClient(secrets, r); err != nil {
				writeError(r.Context(), w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
