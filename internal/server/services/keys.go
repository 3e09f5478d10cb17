package services

import (
	"context"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
)

type Keyring interface {
	SetMasterKey(ctx context.Context, candidate string) error
	ClearMasterKey()
	Unlocked() bool
}

type Broadcaster interface {
	BroadcastAll(ctx context.Context) int
}

// KeyService unlocks and locks the deployment.
type KeyService struct {
	keyring  Keyring
	devices  Broadcaster
	sessions Sessions
	logger   logging.Logger
}

func NewKeyService(keyring Keyring, devices Broadcaster, sessions Sessions, logger logging.Logger) *KeyService {
	return &KeyService{keyring: keyring, devices: devices, sessions: sessions, logger: logger.With("module", "keys")}
}

func (s *KeyService) Unlock(ctx context.Context, masterKey string) error {
	if masterKey == "" {
		return common.ErrValidation
	}
	return s.keyring.SetMasterKey(ctx, masterKey)
}

// Lock locks every live device, drops all sessions and wipes the keys.
// Locking a locked system succeeds.
func (s *KeyService) Lock(ctx context.Context) error {
	if !s.keyring.Unlocked() {
		return nil
	}
	n := s.devices.BroadcastAll(ctx)
	err := s.sessions.RevokeAll(ctx)
	s.keyring.ClearMasterKey()
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Warn(ctx, "system locked", "devices", n)
	return nil
}
