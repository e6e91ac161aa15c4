// Package promptpolicy loads the optional YAML file that overrides which
// prompt blocks each composer profile renders, and in what order.
package promptpolicy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
)

// Policy is the parsed policy file.
//
//	profiles:
//	  asset: [studio_policy, scene_asset, draft, edit_instruction]
//	fallback_policy: "Natural light, no text overlays."
type Policy struct {
	Profiles       map[string][]domain.BlockKind `yaml:"profiles"`
	FallbackPolicy string                        `yaml:"fallback_policy"`
}

// Parse decodes and validates policy YAML.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompt policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects unknown or repeated block kinds and empty profiles.
func (p *Policy) Validate() error {
	var errs []error
	for name, blocks := range p.Profiles {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("profile name must not be empty"))
			continue
		}
		if len(blocks) == 0 {
			errs = append(errs, fmt.Errorf("profile %q lists no blocks", name))
			continue
		}
		seen := make(map[domain.BlockKind]bool, len(blocks))
		for _, b := range blocks {
			if !b.Known() {
				errs = append(errs, fmt.Errorf("profile %q: unknown block %q", name, b))
			}
			if seen[b] {
				errs = append(errs, fmt.Errorf("profile %q: block %q listed twice", name, b))
			}
			seen[b] = true
		}
	}
	return errors.Join(errs...)
}

// Source holds the current policy and reloads it when the file changes. A
// Source with no path serves an empty policy.
type Source struct {
	path   string
	logger infra.Logger

	mu      sync.RWMutex
	current Policy

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewSource loads path once. An empty path yields a static empty policy.
func NewSource(path string, logger infra.Logger) (*Source, error) {
	s := &Source{path: strings.TrimSpace(path), logger: logger}
	if s.path == "" {
		return s, nil
	}
	s.path = filepath.Clean(s.path)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Static returns a Source serving p without any file behind it.
func Static(p Policy) *Source {
	return &Source{current: p}
}

// Profile returns the block override for a profile name.
func (s *Source) Profile(name string) ([]domain.BlockKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocks, ok := s.current.Profiles[name]
	if !ok {
		return nil, false
	}
	return append([]domain.BlockKind(nil), blocks...), true
}

// FallbackPolicy returns the studio policy text used when none is stored.
func (s *Source) FallbackPolicy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.FallbackPolicy
}

// Reload re-reads the file. On error the previous policy stays in effect.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read prompt policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = *p
	s.mu.Unlock()
	return nil
}

// Watch reloads the policy on every write to the file until ctx is done.
// The parent directory is watched so editors that replace files are seen.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Source) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := s.Reload(); err != nil {
					s.logger.Error().Err(err).Str("path", s.path).Msg("promptpolicy: reload failed, keeping previous policy")
					continue
				}
				s.logger.Info().Str("path", s.path).Msg("promptpolicy: reloaded")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("promptpolicy: fsnotify error")
		}
	}
}

// Close stops the watcher and waits for the reload loop to exit.
func (s *Source) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
