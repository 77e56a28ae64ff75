package config

import (
	"log/slog"
	"sync/atomic"
)

// ProfileStore holds the active profile and swaps it atomically on reload.
type ProfileStore struct {
	path    string
	current atomic.Pointer[Profile]
	logger  *slog.Logger
}

// NewProfileStore loads the profile at path (see LoadProfile) and keeps it as
// the active profile.
func NewProfileStore(path string, logger *slog.Logger) (*ProfileStore, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	if _, err := p.NewTransform(); err != nil {
		return nil, err
	}
	s := &ProfileStore{path: path, logger: logger}
	s.current.Store(&p)
	return s, nil
}

// Current returns the active profile.
func (s *ProfileStore) Current() Profile {
	return *s.current.Load()
}

// Reload re-reads the profile. An invalid profile leaves the active one in place.
func (s *ProfileStore) Reload() error {
	p, err := LoadProfile(s.path)
	if err == nil {
		_, err = p.NewTransform()
	}
	if err != nil {
		s.logger.Error("profile reload rejected", "path", s.path, "error", err)
		return err
	}
	s.current.Store(&p)
	s.logger.Info("profile reloaded", "path", s.path, "name", p.Name,
		"source", p.Source.String(), "target", p.Target.String())
	return nil
}
