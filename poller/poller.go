package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/smartthings"
	"github.com/eddielth/smartthings-influx/transformer"
	"golang.org/x/sync/errgroup"
)

// DeviceSource lists devices and fetches their status
type DeviceSource interface {
	Devices(ctx context.Context) ([]smartthings.Device, error)
	Status(ctx context.Context, deviceID string) (transformer.StatusPayload, error)
}

// PointWriter receives the points of one cycle
type PointWriter interface {
	Store(ctx context.Context, points []transformer.Point) error
}

// Observer is told about every cycle
type Observer interface {
	ObserveCycle(err error, duration time.Duration)
	SetDevices(n int)
	DeviceError()
	ObservePoints(points []transformer.Point)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(error, time.Duration) {}
func (nopObserver) SetDevices(int)                    {}
func (nopObserver) DeviceError()                      {}
func (nopObserver) ObservePoints([]transformer.Point) {}

// Poller runs polling cycles: list devices, fetch each status, map it to
// points and write all points of the cycle in one call
type Poller struct {
	source      DeviceSource
	mapper      *transformer.Mapper
	writer      PointWriter
	observer    Observer
	concurrency int
	intervalCh  chan time.Duration
}

// New creates a poller fetching up to concurrency statuses at once
func New(source DeviceSource, mapper *transformer.Mapper, writer PointWriter, concurrency int) *Poller {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Poller{
		source:      source,
		mapper:      mapper,
		writer:      writer,
		observer:    nopObserver{},
		concurrency: concurrency,
		intervalCh:  make(chan time.Duration, 1),
	}
}

// SetObserver registers an observer, typically the metrics collectors
func (p *Poller) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	p.observer = o
}

// SetInterval changes the interval of a running Run loop
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-p.intervalCh:
	default:
	}
	p.intervalCh <- d
}

// PollOnce runs one cycle. A device whose status cannot be fetched is
// skipped; failing to list devices or to write the points is an error.
func (p *Poller) PollOnce(ctx context.Context) error {
	devices, err := p.source.Devices(ctx)
	if err != nil {
		return fmt.Errorf("fetch devices: %w", err)
	}
	p.observer.SetDevices(len(devices))

	results := make([][]transformer.Point, len(devices))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, device := range devices {
		if device.DeviceID == "" {
			logger.Warn("skipping device without id: %q", device.Label)
			continue
		}
		g.Go(func() error {
			status, err := p.source.Status(ctx, device.DeviceID)
			if err != nil {
				logger.Error("status of device %s (%s): %v", device.DeviceID, device.Label, err)
				p.observer.DeviceError()
				return nil
			}
			results[i] = p.mapper.Map(device.Info(), status)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	var points []transformer.Point
	for _, devicePoints := range results {
		points = append(points, devicePoints...)
	}

	logger.Info("posting %d data points from %d devices", len(points), len(devices))
	p.observer.ObservePoints(points)
	if err := p.writer.Store(ctx, points); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return nil
}

func (p *Poller) cycle(ctx context.Context) {
	start := time.Now()
	err := p.PollOnce(ctx)
	p.observer.ObserveCycle(err, time.Since(start))

	switch {
	case err == nil:
		logger.Debug("cycle completed in %s", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("polling cycle failed: %v", err)
	}
}

// Run polls immediately and then every interval until ctx is done
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", interval)
	}

	p.cycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-p.intervalCh:
			logger.Info("poll interval changed to %s", d)
			ticker.Reset(d)
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}
