package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
)

// FileStorage appends points as JSON lines to one file per day
type FileStorage struct {
	basePath string
	now      func() time.Time
	mu       sync.Mutex
}

// NewFileStorage creates basePath if needed
func NewFileStorage(basePath string) (*FileStorage, error) {
	if basePath == "" {
		basePath = "./data"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init file storage: %s", basePath)
	return &FileStorage{
		basePath: basePath,
		now:      time.Now,
	}, nil
}

// Name implements StorageBackend
func (fs *FileStorage) Name() string {
	return "file(" + fs.basePath + ")"
}

func (fs *FileStorage) path() string {
	return filepath.Join(fs.basePath, fmt.Sprintf("points-%s.jsonl", fs.now().UTC().Format("20060102")))
}

// Store implements StorageBackend
func (fs *FileStorage) Store(_ context.Context, points []transformer.Point) error {
	if len(points) == 0 {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	filename := fs.path()
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open file %s failed: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, p := range points {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("serialize point failed: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write file %s failed: %w", filename, err)
	}

	logger.Debug("stored %d points to file: %s", len(points), filename)
	return nil
}

// Close implements StorageBackend
func (fs *FileStorage) Close() error {
	return nil
}
