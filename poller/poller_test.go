package poller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/eddielth/smartthings-influx/smartthings"
	"github.com/eddielth/smartthings-influx/transformer"
)

type fakeSource struct {
	devices    []smartthings.Device
	statuses   map[string]string
	devicesErr error

	mu       sync.Mutex
	listings int
}

func (f *fakeSource) Devices(context.Context) ([]smartthings.Device, error) {
	f.mu.Lock()
	f.listings++
	f.mu.Unlock()
	return f.devices, f.devicesErr
}

func (f *fakeSource) Status(_ context.Context, id string) (transformer.StatusPayload, error) {
	doc, ok := f.statuses[id]
	if !ok {
		return nil, fmt.Errorf("no status for %s", id)
	}
	return transformer.StatusPayload{
		"components": map[string]interface{}{
			"main": map[string]interface{}{
				"battery": map[string]interface{}{
					"battery": map[string]interface{}{"value": doc},
				},
			},
		},
	}, nil
}

func (f *fakeSource) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings
}

// numericSource returns a battery reading equal to the device's index
type numericSource struct {
	fakeSource
	values map[string]float64
}

func (n *numericSource) Status(_ context.Context, id string) (transformer.StatusPayload, error) {
	v, ok := n.values[id]
	if !ok {
		return nil, fmt.Errorf("no status for %s", id)
	}
	return transformer.StatusPayload{
		"components": map[string]interface{}{
			"main": map[string]interface{}{
				"battery": map[string]interface{}{
					"battery": map[string]interface{}{"value": v},
				},
			},
		},
	}, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	writes [][]transformer.Point
	err    error
}

func (w *recordingWriter) Store(_ context.Context, points []transformer.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, points)
	return w.err
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

type countingObserver struct {
	cycles, deviceErrors, devices, points int
	lastErr                               error
}

func (o *countingObserver) ObserveCycle(err error, _ time.Duration) { o.cycles++; o.lastErr = err }
func (o *countingObserver) SetDevices(n int)                        { o.devices = n }
func (o *countingObserver) DeviceError()                            { o.deviceErrors++ }
func (o *countingObserver) ObservePoints(p []transformer.Point)     { o.points += len(p) }

func TestPollOnceKeepsDeviceOrderAndSkipsFailures(t *testing.T) {
	source := &numericSource{values: map[string]float64{}}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("d%02d", i)
		source.devices = append(source.devices, smartthings.Device{DeviceID: id, Label: "Device " + id})
		if i != 7 {
			source.values[id] = float64(i + 1)
		}
	}
	source.devices = append(source.devices, smartthings.Device{Label: "no id"})

	writer := &recordingWriter{}
	observer := &countingObserver{}
	p := New(source, transformer.NewMapper(nil), writer, 4)
	p.SetObserver(observer)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if len(writer.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(writer.writes))
	}
	var ids []string
	for _, pt := range writer.writes[0] {
		ids = append(ids, pt.DeviceID())
	}
	var want []string
	for i := 0; i < 20; i++ {
		if i != 7 {
			want = append(want, fmt.Sprintf("d%02d", i))
		}
	}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("point order %v\nwant %v", ids, want)
	}
	if observer.deviceErrors != 1 || observer.devices != 21 || observer.points != 19 {
		t.Fatalf("observer %+v", observer)
	}
}

func TestPollOnceDeviceListFailure(t *testing.T) {
	source := &fakeSource{devicesErr: errors.New("unauthorized")}
	writer := &recordingWriter{}

	err := New(source, transformer.NewMapper(nil), writer, 1).PollOnce(context.Background())
	if err == nil || writer.count() != 0 {
		t.Fatalf("expected error and no write, got %v and %d writes", err, writer.count())
	}
}

func TestPollOnceWriteFailure(t *testing.T) {
	source := &numericSource{
		fakeSource: fakeSource{devices: []smartthings.Device{{DeviceID: "d1", Label: "Porch"}}},
		values:     map[string]float64{"d1": 50},
	}
	writer := &recordingWriter{err: errors.New("influx down")}

	err := New(source, transformer.NewMapper(nil), writer, 2).PollOnce(context.Background())
	if err == nil {
		t.Fatal("expected write error")
	}
}

func TestPollOnceOutOfRangeReadingsWriteEmptyBatch(t *testing.T) {
	source := &fakeSource{
		devices:  []smartthings.Device{{DeviceID: "d1"}},
		statuses: map[string]string{"d1": "not a number"},
	}
	writer := &recordingWriter{}

	if err := New(source, transformer.NewMapper(nil), writer, 1).PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if writer.count() != 1 || len(writer.writes[0]) != 0 {
		t.Fatalf("expected one empty write, got %+v", writer.writes)
	}
}

func TestRunPollsImmediatelyAndOnTicks(t *testing.T) {
	source := &fakeSource{}
	writer := &recordingWriter{}
	p := New(source, transformer.NewMapper(nil), writer, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 10*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for source.listCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", source.listCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.SetInterval(time.Hour)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	p := New(&fakeSource{}, transformer.NewMapper(nil), &recordingWriter{}, 1)
	if err := p.Run(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
}
