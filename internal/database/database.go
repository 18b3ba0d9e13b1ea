package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
)

// Document is a JSON file that is always rewritten whole
type Document struct {
	name   string
	path   string
	logger *logging.Logger
}

// NewDocument creates a document handle; nothing is read until Load
func NewDocument(name, path string, logger *logging.Logger) *Document {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Document{name: name, path: path, logger: logger.WithComponent("state")}
}

// Path returns the document location
func (d *Document) Path() string {
	return d.path
}

// Load decodes the document into v. A missing file reports false and no error.
func (d *Document) Load(v any) (bool, error) {
	start := time.Now()
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	d.logger.LogStateOperation("load "+d.name, d.path, time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", d.name, err)
	}
	return true, nil
}

// Save writes v as indented JSON through a temp file and rename, so a crash
// never leaves a truncated document behind
func (d *Document) Save(v any) error {
	start := time.Now()
	err := d.write(v)
	d.logger.LogStateOperation("save "+d.name, d.path, time.Since(start), err)
	if err != nil {
		metrics.RecordStateWrite(d.name, "failed")
		return fmt.Errorf("failed to save %s: %w", d.name, err)
	}
	metrics.RecordStateWrite(d.name, "success")
	return nil
}

func (d *Document) write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, d.path)
}
