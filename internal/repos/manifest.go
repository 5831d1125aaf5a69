package repos

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"xrepo/internal/errors"
	"xrepo/internal/paths"
)

const manifestVersion = 1

// Manifest is the on-disk form of a workspace registry, stored as
// <workspace>/.xrepo/xrepo.toml.
type Manifest struct {
	Version   int          `toml:"version"`
	Active    string       `toml:"active,omitempty"`
	UpdatedAt time.Time    `toml:"updated_at"`
	Repos     []Repository `toml:"repos"`
}

// LoadManifest reads the workspace manifest into a new registry. A missing
// manifest yields an empty registry.
func LoadManifest(workspace string) (*Registry, error) {
	reg := NewRegistry()
	path := paths.ManifestPath(workspace)

	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, errors.New(errors.ConfigurationError, "failed to parse workspace manifest", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	if m.Version > manifestVersion {
		return nil, errors.Newf(errors.ConfigurationError,
			"manifest version %d not supported (max: %d)", m.Version, manifestVersion)
	}

	for _, repo := range m.Repos {
		if err := ValidateName(repo.ID); err != nil {
			return nil, err
		}
		if err := reg.insert(repo); err != nil {
			return nil, err
		}
	}
	if m.Active != "" {
		if err := reg.SetActive(m.Active); err != nil {
			return nil, err
		}
	} else {
		reg.active = ""
	}
	return reg, nil
}

// SaveManifest writes the registry to the workspace manifest atomically.
func SaveManifest(workspace string, reg *Registry) error {
	if _, err := paths.EnsureWorkspaceDir(workspace); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	path := paths.ManifestPath(workspace)

	m := Manifest{
		Version:   manifestVersion,
		Active:    reg.Active(),
		UpdatedAt: time.Now().UTC(),
		Repos:     reg.List(),
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// ManifestExists reports whether the workspace has a manifest.
func ManifestExists(workspace string) bool {
	_, err := os.Stat(filepath.Clean(paths.ManifestPath(workspace)))
	return err == nil
}
