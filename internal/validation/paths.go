package validation

import (
	"os"
	"path/filepath"
)

// PathHandler resolves triage's on-disk locations.
type PathHandler struct {
	validator *FilePathValidator
}

func NewSecurePathHandler() *PathHandler {
	return &PathHandler{validator: NewFilePathValidator()}
}

func NewPermissivePathHandler() *PathHandler {
	return &PathHandler{validator: NewPermissiveFilePathValidator()}
}

func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".triage"), nil
}

// DBPath validates the bbolt file path, defaulting to ~/.triage/triage.db,
// and creates its parent directory.
func (ph *PathHandler) DBPath(userPath string) (string, error) {
	return ph.fileIn(userPath, "triage.db")
}

// LogPath validates the debug log path.
func (ph *PathHandler) LogPath(userPath string) (string, error) {
	return ph.fileIn(userPath, "triage.log")
}

// IndexPath validates the bleve index directory without creating it; bleve
// refuses to create an index in an existing directory.
func (ph *PathHandler) IndexPath(userPath string) (string, error) {
	if userPath == "" {
		dir, err := dataDir()
		if err != nil {
			return "", err
		}
		userPath = filepath.Join(dir, "clients.bleve")
	}
	return ph.validator.ValidateDirectory(userPath, false)
}

// ConfigPath validates the config file path.
func (ph *PathHandler) ConfigPath(userPath string) (string, error) {
	if userPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		userPath = filepath.Join(home, ".config", "triage", "config.toml")
	}
	return ph.validator.ValidateFile(userPath)
}

func (ph *PathHandler) fileIn(userPath, name string) (string, error) {
	if userPath == "" {
		dir, err := dataDir()
		if err != nil {
			return "", err
		}
		userPath = filepath.Join(dir, name)
	}
	path, err := ph.validator.ValidateFile(userPath)
	if err != nil {
		return "", err
	}
	if _, err := ph.validator.ValidateDirectory(filepath.Dir(path), true); err != nil {
		return "", err
	}
	return path, nil
}
