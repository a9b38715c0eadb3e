package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eddielth/smartthings-influx/transformer"
)

type memoryBackend struct {
	name   string
	err    error
	stored [][]transformer.Point
	closed bool
}

func (m *memoryBackend) Name() string { return m.name }

func (m *memoryBackend) Store(_ context.Context, points []transformer.Point) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, points)
	return nil
}

func (m *memoryBackend) Close() error {
	m.closed = true
	return nil
}

var samplePoints = []transformer.Point{
	transformer.BuildPoint(transformer.DeviceInfo{DeviceID: "d1", DeviceName: "Porch"}, "humidity", 35, "2023-04-11T22:23:03Z"),
	transformer.BuildPoint(transformer.DeviceInfo{DeviceID: "d2"}, "switch", 1, ""),
}

func TestManagerStoreContinuesPastFailures(t *testing.T) {
	failing := &memoryBackend{name: "broken", err: errors.New("unavailable")}
	healthy := &memoryBackend{name: "healthy"}
	manager := NewManager([]StorageBackend{failing, healthy})

	var hooked []string
	manager.OnError(func(backend string, err error) { hooked = append(hooked, backend) })

	err := manager.Store(context.Background(), samplePoints)
	if err == nil || !strings.Contains(err.Error(), "broken: unavailable") {
		t.Fatalf("expected joined backend error, got %v", err)
	}
	if len(healthy.stored) != 1 || len(healthy.stored[0]) != 2 {
		t.Fatalf("healthy backend did not receive points: %+v", healthy.stored)
	}
	if len(hooked) != 1 || hooked[0] != "broken" {
		t.Fatalf("error hook calls %v", hooked)
	}

	manager.Close()
	if !failing.closed || !healthy.closed {
		t.Fatal("backends not closed")
	}
}

func TestManagerNames(t *testing.T) {
	manager := NewManager(nil)
	manager.AddBackend(&memoryBackend{name: "a"})
	manager.AddBackend(&memoryBackend{name: "b"})

	names := manager.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names %v", names)
	}
	if err := manager.Store(context.Background(), samplePoints); err != nil {
		t.Fatalf("Store: %v", err)
	}
}
