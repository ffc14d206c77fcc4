package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// JSONThreadStore keeps one JSON file per thread under a directory.
type JSONThreadStore struct {
	settings
	dir string
	mu  sync.Mutex
}

// threadEnvelope wraps a thread with an integrity checksum.
type threadEnvelope struct {
	Version   int          `json:"version"`
	Checksum  string       `json:"checksum"`
	UpdatedAt time.Time    `json:"updated_at"`
	Thread    *core.Thread `json:"thread"`
}

// NewJSONThreadStore creates a file-backed store rooted at dir.
func NewJSONThreadStore(dir string, opts ...Option) (*JSONThreadStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating thread directory: %w", err)
	}
	return &JSONThreadStore{settings: newSettings(opts), dir: dir}, nil
}

// Dir returns the storage directory.
func (s *JSONThreadStore) Dir() string {
	return s.dir
}

func (s *JSONThreadStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// CreateThread implements core.ThreadStore.
func (s *JSONThreadStore) CreateThread(_ context.Context, toolName, parentID string, initialContext map[string]interface{}) (string, error) {
	t := s.newThread(toolName, parentID, initialContext)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(t); err != nil {
		return "", err
	}
	return t.ThreadID, nil
}

// GetThread implements core.ThreadStore.
func (s *JSONThreadStore) GetThread(_ context.Context, id string) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// AddTurn implements core.ThreadStore.
func (s *JSONThreadStore) AddTurn(_ context.Context, id string, turns ...core.Turn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(id)
	if err != nil || t == nil {
		return false, err
	}
	if !s.appendTurns(t, turns...) {
		return false, nil
	}
	if err := s.save(t); err != nil {
		return false, err
	}
	return true, nil
}

// load reads a live thread. Expired files are removed. Callers hold mu.
func (s *JSONThreadStore) load(id string) (*core.Thread, error) {
	if !validID(id) {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading thread file: %w", err)
	}

	var env threadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling thread envelope: %w", err)
	}
	if env.Thread == nil {
		return nil, core.ErrState("THREAD_CORRUPTED", "thread file has no thread")
	}
	sum, err := checksum(env.Thread)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, core.ErrState("THREAD_CORRUPTED", "checksum mismatch").WithDetail("thread_id", id)
	}

	if s.expired(env.Thread) {
		_ = os.Remove(s.path(id))
		return nil, nil
	}
	return env.Thread, nil
}

func (s *JSONThreadStore) save(t *core.Thread) error {
	sum, err := checksum(t)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(threadEnvelope{
		Version:   1,
		Checksum:  sum,
		UpdatedAt: t.LastUpdatedAt,
		Thread:    t,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling thread envelope: %w", err)
	}
	if err := atomicWriteFile(s.path(t.ThreadID), data, 0o600); err != nil {
		return fmt.Errorf("writing thread file: %w", err)
	}
	return nil
}

// PurgeExpired removes every expired thread file and returns how many went.
func (s *JSONThreadStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing thread directory: %w", err)
	}
	purged := 0
	for _, e := range entries {
		id, ok := trimExt(e.Name(), ".json")
		if e.IsDir() || !ok || !validID(id) {
			continue
		}
		before := fileExists(s.path(id))
		t, err := s.load(id)
		if err != nil {
			continue
		}
		if t == nil && before {
			purged++
		}
	}
	return purged, nil
}

// Close implements core.ThreadStore.
func (s *JSONThreadStore) Close() error {
	return nil
}

func checksum(t *core.Thread) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshaling thread for checksum: %w", err)
	}
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:]), nil
}

func trimExt(name, ext string) (string, bool) {
	if filepath.Ext(name) != ext {
		return "", false
	}
	return name[:len(name)-len(ext)], true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var _ core.ThreadStore = (*JSONThreadStore)(nil)
