package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/lokmanager/internal/logging"
	"github.com/smazurov/lokmanager/internal/metrics"
)

// DefaultFile is the profiles file used when none is configured.
const DefaultFile = "profiles.json"

// Store holds the profile mapping in memory and persists it to one JSON file.
// Mutating methods other than MarkRunning/MarkStopped persist before returning.
type Store struct {
	path   string
	logger logging.Logger

	// barrier is held shared by each edit together with its save, and
	// exclusively by Reload across its read and replace.
	barrier sync.RWMutex

	mu       sync.RWMutex
	profiles map[string]Profile

	saveMu    sync.Mutex
	lastSaved []byte
}

// NewStore creates a store backed by the file at path. Nothing is read until Load.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultFile
	}
	return &Store{
		path:     path,
		logger:   logging.GetLogger("profile"),
		profiles: make(map[string]Profile),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Read parses the backing file without touching the in-memory mapping.
// A missing file yields an empty mapping and no error.
func (s *Store) Read() (map[string]Profile, error) {
	data, err := s.readFile()
	if err != nil {
		return nil, err
	}
	return s.parse(data)
}

// ReadIfChanged is Read, except that it reports changed=false without
// parsing when the file holds exactly what this store last wrote.
func (s *Store) ReadIfChanged() (profiles map[string]Profile, changed bool, err error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := s.readFile()
	if err != nil {
		return nil, false, err
	}
	if s.lastSaved != nil && bytes.Equal(data, s.lastSaved) {
		return nil, false, nil
	}
	profiles, err = s.parse(data)
	if err != nil {
		return nil, false, err
	}
	return profiles, true, nil
}

func (s *Store) readFile() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []byte{}, nil
		}
		return nil, NewError(ErrCodeConfigError, "failed to read profiles file", err)
	}
	return data, nil
}

func (s *Store) parse(data []byte) (map[string]Profile, error) {
	profiles := make(map[string]Profile)
	if len(bytes.TrimSpace(data)) == 0 {
		return profiles, nil
	}

	var raw map[string]Profile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(ErrCodeConfigError, "failed to parse profiles file", err)
	}

	for name, p := range raw {
		if err := ValidatePathName(name); err != nil {
			s.logger.Warn("Profile name cannot be started, keeping it", "profile", name, "error", err)
		}
		if !p.Status.Valid() {
			s.logger.Warn("Unknown profile status, treating as stopped", "profile", name, "status", string(p.Status))
			p.Status = StatusStopped
		}
		if string(p.Config) == "null" {
			p.Config = nil
		}
		p.Name = name
		profiles[name] = p
	}
	return profiles, nil
}

// Load replaces the in-memory mapping with the file contents and returns a
// copy of it. Read or parse failures are logged and yield an empty mapping.
func (s *Store) Load() map[string]Profile {
	profiles, err := s.Read()
	if err != nil {
		s.logger.Warn("Failed to load profiles, starting with none", "path", s.path, "error", err)
		profiles = make(map[string]Profile)
	} else if len(profiles) == 0 {
		s.logger.Info("No profiles loaded", "path", s.path)
	} else {
		s.logger.Info("Loaded profiles", "path", s.path, "count", len(profiles))
	}

	s.Replace(profiles)
	return s.All()
}

// Reload replaces the in-memory mapping with the file contents when the file
// differs from what this store last wrote. Profiles missing from the file are
// kept from memory when keep reports true for them; their names are returned.
// Edits wait until the reload is done.
func (s *Store) Reload(keep func(name string) bool) (kept []string, changed bool, err error) {
	s.barrier.Lock()
	defer s.barrier.Unlock()

	profiles, changed, err := s.ReadIfChanged()
	if err != nil || !changed {
		return nil, false, err
	}

	if keep != nil {
		for _, name := range s.Names() {
			if _, ok := profiles[name]; ok || !keep(name) {
				continue
			}
			if cur, err := s.Get(name); err == nil {
				profiles[name] = cur
				kept = append(kept, name)
			}
		}
	}

	s.Replace(profiles)
	return kept, true, nil
}

// Replace swaps the in-memory mapping for a copy of profiles.
func (s *Store) Replace(profiles map[string]Profile) {
	next := make(map[string]Profile, len(profiles))
	for name, p := range profiles {
		p = p.Copy()
		p.Name = name
		next[name] = p
	}

	s.mu.Lock()
	s.profiles = next
	s.mu.Unlock()
}

// Save writes the current mapping atomically. Saves are serialized and each
// one snapshots the mapping after acquiring the save lock. On failure the
// in-memory mapping is kept as is.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(s.profiles, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return NewError(ErrCodePersistError, "failed to encode profiles", err)
	}

	data = append(data, '\n')
	if err := writeFileAtomic(s.path, data); err != nil {
		s.logger.Error("Failed to save profiles", "path", s.path, "error", err)
		metrics.RecordPersistFailure()
		return NewError(ErrCodePersistError, "failed to write profiles file", err)
	}
	s.lastSaved = data
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	// Tokens are secrets
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Create adds a stopped profile with an empty token and the default config.
func (s *Store) Create(name string) (Profile, error) {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	if _, exists := s.profiles[name]; exists {
		s.mu.Unlock()
		return Profile{}, NewError(ErrCodeDuplicateProfile, fmt.Sprintf("profile %q already exists", name), nil)
	}
	p := Profile{
		Name:   name,
		Config: DefaultConfig(),
		Status: StatusStopped,
	}
	s.profiles[name] = p
	s.mu.Unlock()

	s.logger.Info("Profile created", "profile", name)
	return p.Copy(), s.Save()
}

// Clone copies the token and config of source into a new stopped profile.
func (s *Store) Clone(source, name string) (Profile, error) {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	src, ok := s.profiles[source]
	if !ok {
		s.mu.Unlock()
		return Profile{}, notFound(source)
	}
	if _, exists := s.profiles[name]; exists {
		s.mu.Unlock()
		return Profile{}, NewError(ErrCodeDuplicateProfile, fmt.Sprintf("profile %q already exists", name), nil)
	}
	p := src.Copy()
	p.Name = name
	p.Status = StatusStopped
	p.StartTime = nil
	s.profiles[name] = p
	s.mu.Unlock()

	s.logger.Info("Profile cloned", "profile", name, "source", source)
	return p.Copy(), s.Save()
}

// Delete removes a profile and persists. Callers must stop a running
// profile first.
func (s *Store) Delete(name string) error {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	s.mu.Lock()
	if _, ok := s.profiles[name]; !ok {
		s.mu.Unlock()
		return notFound(name)
	}
	delete(s.profiles, name)
	s.mu.Unlock()

	s.logger.Info("Profile deleted", "profile", name)
	return s.Save()
}

// Put inserts or replaces a profile without persisting.
func (s *Store) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Name] = p.Copy()
}

// SetToken stores the account token for a profile.
func (s *Store) SetToken(name, token string) error {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if err := s.update(name, func(p *Profile) error {
		p.Token = token
		return nil
	}); err != nil {
		return err
	}
	return s.Save()
}

// MarkRunning sets status Running and records the start time. It does not persist.
func (s *Store) MarkRunning(name string, t time.Time) error {
	return s.update(name, func(p *Profile) error {
		st := EpochFrom(t)
		p.Status = StatusRunning
		p.StartTime = &st
		return nil
	})
}

// MarkStopped sets status Stopped, keeping the start time. It does not persist.
func (s *Store) MarkStopped(name string) error {
	return s.update(name, func(p *Profile) error {
		p.Status = StatusStopped
		return nil
	})
}

func (s *Store) update(name string, fn func(p *Profile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[name]
	if !ok {
		return notFound(name)
	}
	if err := fn(&p); err != nil {
		return err
	}
	s.profiles[name] = p
	return nil
}

// Get returns a copy of the named profile.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, notFound(name)
	}
	return p.Copy(), nil
}

// Exists reports whether a profile with that name is stored.
func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[name]
	return ok
}

// Names returns profile names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// All returns a deep copy of the mapping.
func (s *Store) All() map[string]Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Profile, len(s.profiles))
	for name, p := range s.profiles {
		out[name] = p.Copy()
	}
	return out
}
