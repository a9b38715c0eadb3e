package transformer

import (
	"encoding/json"
	"testing"
)

func TestBuildPointShape(t *testing.T) {
	p := BuildPoint(DeviceInfo{DeviceID: "d1", DeviceName: "Porch"}, "humidity", 35, "2023-04-11T22:23:03Z")

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"measurement":"humidity","tags":{"deviceId":"d1","deviceName":"Porch"},"fields":{"value":35},"time":"2023-04-11T22:23:03Z"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}

func TestBuildPointWithoutTime(t *testing.T) {
	p := BuildPoint(DeviceInfo{DeviceID: "d2"}, "switch", 1, "")
	if p.HasTime() {
		t.Fatal("expected no time")
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"measurement":"switch","tags":{"deviceId":"d2","deviceName":""},"fields":{"value":1}}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
	if p.DeviceID() != "d2" || p.DeviceName() != "" || p.Value() != 1 {
		t.Fatalf("unexpected accessors: %+v", p)
	}
}
