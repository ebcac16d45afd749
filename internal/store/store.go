// Package store holds the process-wide backend settings: base URL,
// application ID, subscription key and version ID. The settings start from
// environment-derived defaults and are replaced at runtime by /config.
package store

import (
	"sync/atomic"
)

// Settings is one consistent view of the backend settings.
type Settings struct {
	BaseURL   string `json:"baseURL"`
	AppID     string `json:"appId"`
	AppKey    string `json:"appKey"`
	VersionID string `json:"versionId"`
}

// Patch carries the overridable fields of a /config update. An empty field
// means "reset to default".
type Patch struct {
	URL    string
	AppID  string
	AppKey string
}

// Store owns the active Settings. Reads and updates are safe for
// concurrent use; an update swaps the whole value, so readers never see a
// mix of old and new fields.
type Store struct {
	defaults Settings
	current  atomic.Pointer[Settings]
}

// New creates a Store whose active settings and reset targets are defaults.
func New(defaults Settings) *Store {
	s := &Store{defaults: defaults}
	initial := defaults
	s.current.Store(&initial)
	return s
}

// Snapshot returns the active settings.
func (s *Store) Snapshot() Settings {
	return *s.current.Load()
}

// Defaults returns the startup settings used as reset targets.
func (s *Store) Defaults() Settings {
	return s.defaults
}

// Update replaces the overridable fields. Each non-empty field in p wins;
// each empty one falls back to the startup default, not to the previously
// active value. VersionID is never changed. Update returns the new
// active settings.
func (s *Store) Update(p Patch) Settings {
	next := Settings{
		BaseURL:   orDefault(p.URL, s.defaults.BaseURL),
		AppID:     orDefault(p.AppID, s.defaults.AppID),
		AppKey:    orDefault(p.AppKey, s.defaults.AppKey),
		VersionID: s.defaults.VersionID,
	}
	s.current.Store(&next)
	return next
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
