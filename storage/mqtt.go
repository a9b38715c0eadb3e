package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/transformer"
)

// Publisher sends one MQTT message
type Publisher interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
}

// MQTTStorage publishes every point as JSON to <prefix>/<deviceId>/<measurement>
type MQTTStorage struct {
	publisher Publisher
	prefix    string
	qos       byte
	retain    bool
}

// NewMQTTStorage creates a backend publishing through publisher
func NewMQTTStorage(publisher Publisher, cfg config.MQTTStorageConfig) *MQTTStorage {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "smartthings"
	}
	return &MQTTStorage{
		publisher: publisher,
		prefix:    prefix,
		qos:       cfg.QoS,
		retain:    cfg.Retain,
	}
}

// Name implements StorageBackend
func (ms *MQTTStorage) Name() string {
	return "mqtt(" + ms.prefix + ")"
}

// Topic returns the topic a point is published on. MQTT wildcard and
// separator characters in the device id are replaced.
func (ms *MQTTStorage) Topic(p transformer.Point) string {
	clean := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(p.DeviceID())
	return ms.prefix + "/" + clean + "/" + p.Measurement
}

// Store implements StorageBackend
func (ms *MQTTStorage) Store(ctx context.Context, points []transformer.Point) error {
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("serialize point: %w", err)
		}
		if err := ms.publisher.Publish(ms.Topic(p), ms.qos, ms.retain, payload); err != nil {
			return err
		}
	}
	return nil
}

// Close implements StorageBackend. The connection is owned by the caller.
func (ms *MQTTStorage) Close() error {
	return nil
}
