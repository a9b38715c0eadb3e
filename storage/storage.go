package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
)

// StorageBackend is a sink for measurement points
type StorageBackend interface {
	// Name identifies the backend in logs and metrics
	Name() string
	// Store writes one cycle's points
	Store(ctx context.Context, points []transformer.Point) error
	// Close releases the backend's connections
	Close() error
}

// ErrorHook observes a failed backend write
type ErrorHook func(backend string, err error)

// Manager fans points out to every configured backend
type Manager struct {
	backends []StorageBackend
	onError  ErrorHook
	mutex    sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(backends []StorageBackend) *Manager {
	return &Manager{
		backends: backends,
	}
}

// OnError registers a hook called for every failed backend write
func (m *Manager) OnError(hook ErrorHook) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onError = hook
}

// Store writes points to all backends. A failing backend does not stop the
// others; the failures are returned joined.
func (m *Manager) Store(ctx context.Context, points []transformer.Point) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var errs []error
	for _, backend := range m.backends {
		if err := backend.Store(ctx, points); err != nil {
			logger.Error("write to %s failed (%d points): %v", backend.Name(), len(points), err)
			if m.onError != nil {
				m.onError(backend.Name(), err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		logger.Debug("wrote %d points to %s", len(points), backend.Name())
	}

	return errors.Join(errs...)
}

// Names lists the configured backends
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		names = append(names, backend.Name())
	}
	return names
}

// Close closes all backends
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close %s: %v", backend.Name(), err)
		}
	}
}

// AddBackend adds a backend
func (m *Manager) AddBackend(backend StorageBackend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}

// NewFromConfig opens every enabled backend. publisher is used by the MQTT
// backend and may be nil when that backend is disabled.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, publisher Publisher) (*Manager, error) {
	manager := NewManager(nil)

	if cfg.Influx.Enabled {
		influx, err := NewInfluxStorage(ctx, cfg.Influx)
		if err != nil {
			manager.Close()
			return nil, err
		}
		manager.AddBackend(influx)
	}

	if cfg.File.Enabled {
		file, err := NewFileStorage(cfg.File.Path)
		if err != nil {
			manager.Close()
			return nil, err
		}
		manager.AddBackend(file)
	}

	if cfg.Database.Enabled {
		db, err := NewDatabaseStorage(ctx, cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			manager.Close()
			return nil, err
		}
		manager.AddBackend(db)
	}

	if cfg.MQTT.Enabled {
		if publisher == nil {
			manager.Close()
			return nil, errors.New("mqtt storage enabled without an MQTT connection")
		}
		manager.AddBackend(NewMQTTStorage(publisher, cfg.MQTT))
	}

	if len(manager.backends) == 0 {
		logger.Warn("no storage backend enabled, points will be discarded")
	}
	return manager, nil
}
