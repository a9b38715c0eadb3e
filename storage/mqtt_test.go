package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/transformer"
)

type message struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakePublisher struct {
	messages []message
	err      error
}

func (f *fakePublisher) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic, qos, retain, payload})
	return nil
}

func TestMQTTStoragePublishesPoints(t *testing.T) {
	pub := &fakePublisher{}
	ms := NewMQTTStorage(pub, config.MQTTStorageConfig{TopicPrefix: "/home/st/", QoS: 1, Retain: true})

	if err := ms.Store(context.Background(), samplePoints); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.messages))
	}

	m := pub.messages[0]
	if m.topic != "home/st/d1/humidity" || m.qos != 1 || !m.retain {
		t.Fatalf("unexpected message %+v", m)
	}
	var p transformer.Point
	if err := json.Unmarshal(m.payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Value() != 35 || p.DeviceName() != "Porch" {
		t.Fatalf("unexpected payload %s", m.payload)
	}
}

func TestMQTTStorageTopicSanitizesDeviceID(t *testing.T) {
	ms := NewMQTTStorage(&fakePublisher{}, config.MQTTStorageConfig{})
	p := transformer.BuildPoint(transformer.DeviceInfo{DeviceID: "a/b+c#"}, "battery", 50, "")
	if got := ms.Topic(p); got != "smartthings/a_b_c_/battery" {
		t.Fatalf("topic %q", got)
	}
}

func TestMQTTStoragePublishError(t *testing.T) {
	ms := NewMQTTStorage(&fakePublisher{err: errors.New("not connected")}, config.MQTTStorageConfig{})
	if err := ms.Store(context.Background(), samplePoints); err == nil {
		t.Fatal("expected publish error")
	}
}
