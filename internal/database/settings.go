package database

import (
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// SettingsRepository persists the last used upload parameters. Credentials
// are never written here.
type SettingsRepository struct {
	doc *Document
}

// NewSettingsRepository creates a repository backed by path
func NewSettingsRepository(path string, logger *logging.Logger) *SettingsRepository {
	return &SettingsRepository{doc: NewDocument("settings", path, logger)}
}

// Load returns the saved settings; found is false when none were saved
func (r *SettingsRepository) Load() (settings models.UploadSettings, found bool, err error) {
	found, err = r.doc.Load(&settings)
	if err != nil {
		return models.UploadSettings{}, false, err
	}
	return settings, found, nil
}

// Save replaces the saved settings
func (r *SettingsRepository) Save(settings models.UploadSettings) error {
	return r.doc.Save(settings)
}
