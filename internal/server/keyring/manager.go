// Package keyring owns the master key lifecycle. The master key unwraps a
// sealed blob of secret properties, one of which is the common key every
// field cipher operation depends on.
package keyring

import (
	"context"
	"fmt"
	"sync"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
)

// Manager holds the unlocked key material in process memory only.
type Manager struct {
	mu        sync.RWMutex
	source    Source
	masterKey []byte
	commonKey []byte
	props     Properties

	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewManager(source Source, logger logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		source:  source,
		logger:  logger.With("module", "keyring"),
		metrics: m,
	}
}

// SetMasterKey unwraps the stored blob with candidate. Any failure leaves the
// manager locked and returns ErrInvalidMasterKey.
func (m *Manager) SetMasterKey(ctx context.Context, candidate string) error {
	if candidate == "" {
		m.ClearMasterKey()
		m.metrics.ObserveUnlock(false)
		return fmt.Errorf("%w: empty key", common.ErrInvalidMasterKey)
	}

	raw, err := m.source.Load(ctx)
	if err != nil {
		m.ClearMasterKey()
		m.metrics.ObserveUnlock(false)
		m.logger.Error(ctx, "key blob unavailable", "error", err)
		return fmt.Errorf("%w: %v", common.ErrInvalidMasterKey, err)
	}

	props, commonKey, err := unwrap([]byte(candidate), raw)
	if err != nil {
		m.ClearMasterKey()
		m.metrics.ObserveUnlock(false)
		m.logger.Warn(ctx, "unlock rejected")
		return fmt.Errorf("%w: %v", common.ErrInvalidMasterKey, err)
	}

	m.mu.Lock()
	m.wipeLocked()
	m.masterKey = []byte(candidate)
	m.commonKey = commonKey
	m.props = props
	m.mu.Unlock()

	m.metrics.ObserveUnlock(true)
	m.logger.Info(ctx, "key hierarchy unlocked")
	return nil
}

func unwrap(masterKey, raw []byte) (Properties, []byte, error) {
	b, err := UnmarshalBlob(raw)
	if err != nil {
		return nil, nil, err
	}
	props, err := Open(masterKey, b)
	if err != nil {
		return nil, nil, err
	}
	ck, err := decodeCommonKey(props)
	if err != nil {
		return nil, nil, err
	}
	return props, ck, nil
}

// ClearMasterKey wipes all key material. It is idempotent.
func (m *Manager) ClearMasterKey() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wipeLocked()
}

func (m *Manager) wipeLocked() {
	common.WipeByteArray(m.masterKey)
	common.WipeByteArray(m.commonKey)
	m.masterKey = nil
	m.commonKey = nil
	m.props = nil
}

// Unlocked reports whether the common key is held.
func (m *Manager) Unlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commonKey != nil
}

// ConfigValue returns a sealed property. Missing keys map to ErrorNotFound.
func (m *Manager) ConfigValue(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.commonKey == nil {
		return "", common.ErrSystemLocked
	}
	v, ok := m.props[key]
	if !ok {
		return "", fmt.Errorf("config %s: %w", key, common.ErrorNotFound)
	}
	return v, nil
}

// CommonKey returns a copy of the common key, which the caller should wipe.
func (m *Manager) CommonKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.commonKey == nil {
		return nil, common.ErrSystemLocked
	}
	out := make([]byte, len(m.commonKey))
	copy(out, m.commonKey)
	return out, nil
}
