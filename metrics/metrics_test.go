package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eddielth/smartthings-influx/transformer"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	device := transformer.DeviceInfo{DeviceID: "d1"}

	m.ObserveCycle(nil, time.Second)
	m.ObserveCycle(errors.New("boom"), time.Second)
	m.SetDevices(3)
	m.DeviceError()
	m.ObservePoints([]transformer.Point{
		transformer.BuildPoint(device, "humidity", 35, ""),
		transformer.BuildPoint(device, "humidity", 36, ""),
		transformer.BuildPoint(device, "battery", 80, ""),
	})
	m.Dropped(device, "battery", transformer.DropOutOfRange)
	m.StorageError("influx", errors.New("down"))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"success cycles", testutil.ToFloat64(m.cycles.WithLabelValues(ResultSuccess)), 1},
		{"error cycles", testutil.ToFloat64(m.cycles.WithLabelValues(ResultError)), 1},
		{"devices", testutil.ToFloat64(m.devices), 3},
		{"device errors", testutil.ToFloat64(m.deviceErrors), 1},
		{"humidity points", testutil.ToFloat64(m.points.WithLabelValues("humidity")), 2},
		{"battery points", testutil.ToFloat64(m.points.WithLabelValues("battery")), 1},
		{"dropped", testutil.ToFloat64(m.dropped.WithLabelValues("battery", "out_of_range")), 1},
		{"storage errors", testutil.ToFloat64(m.storageErrors.WithLabelValues("influx")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.SetDevices(2)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "smartthings_influx_devices 2") {
		t.Fatalf("devices gauge missing from exposition:\n%s", body)
	}
}
