package vaultctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 15 * time.Second

type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Remote talks to the key endpoints of a running server.
type Remote struct {
	base   string
	client *http.Client
}

func NewRemote(base string) *Remote {
	return &Remote{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Unlock submits the master key.
func (r *Remote) Unlock(ctx context.Context, masterKey string) error {
	return r.post(ctx, "/v1/key", map[string]string{"key": masterKey}, nil)
}

// Lock clears the master key. Client credentials are checked by the server
// while it is unlocked.
func (r *Remote) Lock(ctx context.Context, clientID, clientSecret string) error {
	return r.post(ctx, "/v1/key/clear", nil, func(req *http.Request) {
		req.SetBasicAuth(clientID, clientSecret)
	})
}

func (r *Remote) post(ctx context.Context, path string, body any, decorate func(*http.Request)) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if !env.Success {
		return fmt.Errorf("%s: %s", env.Code, env.Message)
	}
	return nil
}
