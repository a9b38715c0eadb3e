package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxStorage writes points to InfluxDB with second precision
type InfluxStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	target   string
	integers bool
}

// NewInfluxStorage connects to InfluxDB. An unreachable server is logged,
// not fatal: writes are attempted every cycle.
func NewInfluxStorage(ctx context.Context, cfg config.InfluxStorageConfig) (*InfluxStorage, error) {
	org, bucket := influxTarget(cfg)
	if bucket == "" {
		return nil, fmt.Errorf("influx storage needs a database or a bucket")
	}

	options := influxdb2.DefaultOptions().SetPrecision(time.Second)
	if cfg.Timeout > 0 {
		options.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.ServerURL(), influxToken(cfg), options)

	s := &InfluxStorage{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		target:   fmt.Sprintf("%s:%s", cfg.ServerURL(), bucket),
		integers: cfg.IntegerFields,
	}

	if ok, err := client.Ping(ctx); err != nil || !ok {
		logger.Warn("InfluxDB at %s is not reachable yet: %v", cfg.ServerURL(), err)
	} else {
		logger.Info("connected to InfluxDB %s", s.target)
	}
	return s, nil
}

// influxTarget picks org/bucket for 2.x, or database[/retention policy] for
// the 1.8 compatibility endpoint
func influxTarget(cfg config.InfluxStorageConfig) (org, bucket string) {
	if cfg.Bucket != "" {
		return cfg.Org, cfg.Bucket
	}
	if cfg.Database == "" {
		return "", ""
	}
	if cfg.RetentionPolicy != "" {
		return "", cfg.Database + "/" + cfg.RetentionPolicy
	}
	return "", cfg.Database
}

func influxToken(cfg config.InfluxStorageConfig) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	if cfg.Username != "" {
		return cfg.Username + ":" + cfg.Password
	}
	return ""
}

// Name implements StorageBackend
func (s *InfluxStorage) Name() string {
	return "influx(" + s.target + ")"
}

// Store implements StorageBackend
func (s *InfluxStorage) Store(ctx context.Context, points []transformer.Point) error {
	if len(points) == 0 {
		return nil
	}

	lines := make([]*write.Point, 0, len(points))
	for _, p := range points {
		wp, err := toWritePoint(p, s.integers)
		if err != nil {
			return err
		}
		lines = append(lines, wp)
	}

	if err := s.writeAPI.WritePoint(ctx, lines...); err != nil {
		return fmt.Errorf("write to InfluxDB: %w", err)
	}
	logger.Info("posted %d data points to %s", len(points), s.target)
	return nil
}

// toWritePoint converts a point to the client's representation. Empty tag
// values are left out since line protocol cannot carry them; points without
// time get the server's ingestion time. With integers set, whole values are
// written as integer fields.
func toWritePoint(p transformer.Point, integers bool) (*write.Point, error) {
	wp := write.NewPointWithMeasurement(p.Measurement)
	for k, v := range p.Tags {
		if v != "" {
			wp.AddTag(k, v)
		}
	}
	for k, v := range p.Fields {
		if integers && v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			wp.AddField(k, int64(v))
			continue
		}
		wp.AddField(k, v)
	}
	if p.HasTime() {
		t, err := time.Parse(transformer.PointTimeLayout, p.Time)
		if err != nil {
			return nil, fmt.Errorf("point %s for %s: %w", p.Measurement, p.DeviceID(), err)
		}
		wp.SetTime(t)
	}
	return wp.SortTags().SortFields(), nil
}

// Close implements StorageBackend
func (s *InfluxStorage) Close() error {
	s.client.Close()
	return nil
}
