// Package identity looks up the municipal staff profile behind an
// authenticated subject: a YAML directory with hot reload and a TTL cache in
// front of it.
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rynzz22/digital.talibon/model"
)

// ProfileSource finds the profile of an authenticated subject. A missing
// profile is reported with found == false and a nil error.
type ProfileSource interface {
	Lookup(ctx context.Context, subjectID, email string) (actor model.Actor, found bool, err error)
}

type directoryFile struct {
	Profiles []model.Actor `yaml:"profiles"`
}

// Directory serves profiles from a static YAML file. Lookups match the
// subject ID first, then the email address case-insensitively.
type Directory struct {
	path    string
	mu      sync.RWMutex
	byID    map[string]model.Actor
	byEmail map[string]model.Actor
}

// NewDirectory creates a directory and loads path.
func NewDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Sync(); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup implements ProfileSource.
func (d *Directory) Lookup(_ context.Context, subjectID, email string) (model.Actor, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if a, ok := d.byID[subjectID]; ok && subjectID != "" {
		return a, true, nil
	}
	if email != "" {
		if a, ok := d.byEmail[strings.ToLower(email)]; ok {
			return a, true, nil
		}
	}
	return model.Actor{}, false, nil
}

// Len returns the number of loaded profiles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// Sync reloads the profile file from disk. On error the previously loaded
// profiles stay in effect.
func (d *Directory) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("identity: reading profiles file %s: %w", d.path, err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: parsing profiles file %s: %w", d.path, err)
	}

	byID := make(map[string]model.Actor, len(f.Profiles))
	byEmail := make(map[string]model.Actor, len(f.Profiles))
	for i, p := range f.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("identity: profile %d (%s): %w", i, p.ID, err)
		}
		if _, dup := byID[p.ID]; dup {
			return fmt.Errorf("identity: duplicate profile id %q", p.ID)
		}
		byID[p.ID] = p
		if p.Email != "" {
			byEmail[strings.ToLower(p.Email)] = p
		}
	}

	d.mu.Lock()
	d.byID = byID
	d.byEmail = byEmail
	d.mu.Unlock()

	return nil
}

// HealthCheck reports whether any profiles are loaded.
func (d *Directory) HealthCheck(context.Context) error {
	if d.Len() == 0 {
		return fmt.Errorf("identity: no profiles loaded")
	}
	return nil
}
