package upload

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// ProgressFunc is called after each transferred file
type ProgressFunc func(done, total int, name string)

// Uploader transfers an HLS package and registers it
type Uploader interface {
	UploadDirectory(ctx context.Context, localDir, prefix string, cancel func() bool, onProgress ProgressFunc) ([]models.UploadRecord, error)
	CreateRecord(ctx context.Context, req RecordRequest) (map[string]any, error)
}

// Manager uploads files to presigned targets
type Manager struct {
	presigner  Presigner
	records    RecordCreator
	httpClient *http.Client
	retrier    *Retrier
	logger     *logging.Logger
}

// NewManager creates an upload manager. records may be nil when no content
// record is wanted. A nil httpClient gets a 300s timeout for object PUTs.
func NewManager(presigner Presigner, records RecordCreator, httpClient *http.Client, logger *logging.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 300 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		presigner:  presigner,
		records:    records,
		httpClient: httpClient,
		retrier:    NewRetrier(),
		logger:     logger.WithComponent("upload"),
	}
}

// WithRetrier replaces the retry policy
func (m *Manager) WithRetrier(r *Retrier) *Manager {
	m.retrier = r
	return m
}

// UploadDirectory uploads every regular file under localDir to
// <prefix>/<relative path>, in relative path order. cancel is checked before
// each file; when it reports true the records uploaded so far are returned
// together with ErrCancelled.
func (m *Manager) UploadDirectory(ctx context.Context, localDir, prefix string, cancel func() bool, onProgress ProgressFunc) ([]models.UploadRecord, error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", localDir)
	}

	files, err := listFiles(localDir)
	if err != nil {
		return nil, err
	}

	prefix = strings.TrimRight(slashKey(prefix), "/")
	uploaded := make([]models.UploadRecord, 0, len(files))
	for i, rel := range files {
		if cancel != nil && cancel() {
			m.logger.Infof("Upload cancelled after %d/%d files", len(uploaded), len(files))
			return uploaded, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}

		key := rel
		if prefix != "" {
			key = prefix + "/" + rel
		}
		local := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := m.UploadFile(ctx, local, key); err != nil {
			return uploaded, err
		}

		role, qualifier := ClassifyFile(rel)
		uploaded = append(uploaded, models.UploadRecord{
			LocalPath: local,
			Key:       key,
			Role:      role,
			Qualifier: qualifier,
		})
		if onProgress != nil {
			onProgress(i+1, len(files), path.Base(rel))
		}
	}
	return uploaded, nil
}

// UploadFile presigns key and PUTs the file to it, each under the retry policy
func (m *Manager) UploadFile(ctx context.Context, localPath, key string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", localPath)
	}
	contentType := storage.ContentType(localPath)
	start := time.Now()

	var target *models.UploadTarget
	attempts, err := m.retrier.Do(ctx, "presign", func(ctx context.Context) error {
		t, err := m.presigner.Presign(ctx, key, contentType)
		if err != nil {
			return err
		}
		target = t
		return nil
	})
	if err == nil && (target == nil || target.SignedURL == "") {
		err = fmt.Errorf("no signedUrl in response for %s", key)
	}
	if err != nil {
		m.finish(key, info.Size(), attempts, start, err)
		return err
	}

	putAttempts, err := m.retrier.Do(ctx, "put", func(ctx context.Context) error {
		return m.put(ctx, localPath, target.SignedURL, contentType, info.Size())
	})
	m.finish(key, info.Size(), attempts+putAttempts, start, err)
	return err
}

// CreateRecord registers the package; it is never retried
func (m *Manager) CreateRecord(ctx context.Context, req RecordRequest) (map[string]any, error) {
	if m.records == nil {
		return nil, ErrNotConfigured
	}
	record, err := m.records.CreateRecord(ctx, req)
	if err != nil {
		m.logger.ErrorWithErr("Failed to create content record", err)
		metrics.RecordError("upload", "create_record")
		return nil, err
	}
	m.logger.Info("File record created successfully")
	return record, nil
}

func (m *Manager) put(ctx context.Context, localPath, signedURL, contentType string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, f)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("put: %w: %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: "put", StatusCode: resp.StatusCode}
	}
	return nil
}

func (m *Manager) finish(key string, size int64, attempts int, start time.Time, err error) {
	m.logger.LogUploadOperation(key, size, attempts, time.Since(start), err)
	if err != nil {
		metrics.RecordUploadObject("failed", 0)
		metrics.RecordError("upload", "transfer")
		return
	}
	metrics.RecordUploadObject("success", size)
}

// listFiles returns regular files under root as sorted slash separated
// relative paths
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
