package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/transformer"
)

type influxRecorder struct {
	mu     sync.Mutex
	bodies []string
	query  []string
	auth   []string
}

func (r *influxRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/ping", "/health":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(req.Body)
			r.mu.Lock()
			r.bodies = append(r.bodies, string(body))
			r.query = append(r.query, req.URL.RawQuery)
			r.auth = append(r.auth, req.Header.Get("Authorization"))
			r.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s", req.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestInfluxStorageWritesLegacySchema(t *testing.T) {
	rec := &influxRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	s, err := NewInfluxStorage(context.Background(), config.InfluxStorageConfig{
		URL:      server.URL,
		Database: "SmartThings",
		Username: "st",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewInfluxStorage: %v", err)
	}
	defer s.Close()

	if err := s.Store(context.Background(), samplePoints); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if len(rec.bodies) != 1 {
		t.Fatalf("expected one write request, got %d", len(rec.bodies))
	}
	if !strings.Contains(rec.query[0], "bucket=SmartThings") || !strings.Contains(rec.query[0], "precision=s") {
		t.Fatalf("unexpected query %q", rec.query[0])
	}
	if rec.auth[0] != "Token st:secret" {
		t.Fatalf("unexpected auth %q", rec.auth[0])
	}

	lines := strings.Split(strings.TrimSpace(rec.bodies[0]), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", rec.bodies[0])
	}
	ts := strconv.FormatInt(time.Date(2023, 4, 11, 22, 23, 3, 0, time.UTC).Unix(), 10)
	if want := "humidity,deviceId=d1,deviceName=Porch value=35 " + ts; lines[0] != want {
		t.Fatalf("line %q, want %q", lines[0], want)
	}
	if want := "switch,deviceId=d2 value=1"; lines[1] != want {
		t.Fatalf("line %q, want %q", lines[1], want)
	}
}

func TestInfluxStorageIntegerFields(t *testing.T) {
	rec := &influxRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	s, err := NewInfluxStorage(context.Background(), config.InfluxStorageConfig{
		URL:           server.URL,
		Database:      "SmartThings",
		IntegerFields: true,
	})
	if err != nil {
		t.Fatalf("NewInfluxStorage: %v", err)
	}
	defer s.Close()

	points := append(samplePoints, transformer.BuildPoint(transformer.DeviceInfo{DeviceID: "d3"}, "temperature", 72.5, ""))
	if err := s.Store(context.Background(), points); err != nil {
		t.Fatalf("Store: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(rec.bodies[0]), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", rec.bodies[0])
	}
	ts := strconv.FormatInt(time.Date(2023, 4, 11, 22, 23, 3, 0, time.UTC).Unix(), 10)
	want := []string{
		"humidity,deviceId=d1,deviceName=Porch value=35i " + ts,
		"switch,deviceId=d2 value=1i",
		"temperature,deviceId=d3 value=72.5",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestInfluxStorageSkipsEmptyBatch(t *testing.T) {
	rec := &influxRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	s, err := NewInfluxStorage(context.Background(), config.InfluxStorageConfig{URL: server.URL, Org: "home", Bucket: "st"})
	if err != nil {
		t.Fatalf("NewInfluxStorage: %v", err)
	}
	defer s.Close()

	if err := s.Store(context.Background(), nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(rec.bodies) != 0 {
		t.Fatalf("unexpected writes %v", rec.bodies)
	}
}

func TestInfluxTarget(t *testing.T) {
	tests := []struct {
		cfg         config.InfluxStorageConfig
		org, bucket string
	}{
		{config.InfluxStorageConfig{Database: "SmartThings"}, "", "SmartThings"},
		{config.InfluxStorageConfig{Database: "SmartThings", RetentionPolicy: "autogen"}, "", "SmartThings/autogen"},
		{config.InfluxStorageConfig{Database: "SmartThings", Org: "home", Bucket: "st"}, "home", "st"},
		{config.InfluxStorageConfig{}, "", ""},
	}
	for _, tt := range tests {
		org, bucket := influxTarget(tt.cfg)
		if org != tt.org || bucket != tt.bucket {
			t.Fatalf("influxTarget(%+v) = %q, %q", tt.cfg, org, bucket)
		}
	}

	if _, err := NewInfluxStorage(context.Background(), config.InfluxStorageConfig{URL: "http://localhost:1"}); err == nil {
		t.Fatal("expected error without database or bucket")
	}
}
