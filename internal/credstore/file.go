package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type fileState struct {
	Services map[string]map[string]string `json:"services"`
}

// FileStore keeps credentials in a JSON file readable only by its owner. The
// file is re-read on every Get so that edits by another process are seen.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidDSN
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(service, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := state.Services[service][key]
	return value, ok, nil
}

func (s *FileStore) Set(service, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	if state.Services[service] == nil {
		state.Services[service] = map[string]string{}
	}
	state.Services[service][key] = value
	return s.persist(state)
}

func (s *FileStore) Delete(service, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := state.Services[service][key]; !ok {
		return nil
	}
	delete(state.Services[service], key)
	if len(state.Services[service]) == 0 {
		delete(state.Services, service)
	}
	return s.persist(state)
}

func (s *FileStore) load() (fileState, error) {
	state := fileState{Services: map[string]map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if state.Services == nil {
		state.Services = map[string]map[string]string{}
	}
	return state, nil
}

func (s *FileStore) persist(state fileState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Watch calls onChange whenever the credential file is written, replaced or
// removed, until ctx is done. The parent directory is watched so that atomic
// renames are noticed.
func (s *FileStore) Watch(ctx context.Context, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				logger.Debug("credential file changed", "op", event.Op.String())
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credential watch error", "error", err)
		}
	}
}
