package identity

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed pool.schema.json
var poolSchemaJSON string

var (
	poolSchemaOnce sync.Once
	poolSchema     *jsonschema.Schema
	poolSchemaErr  error
)

func compiledPoolSchema() (*jsonschema.Schema, error) {
	poolSchemaOnce.Do(func() {
		poolSchema, poolSchemaErr = jsonschema.CompileString("identity_pool.schema.json", poolSchemaJSON)
	})
	return poolSchema, poolSchemaErr
}

// FileStore keeps the pool as a JSON array on disk. Writes go through a
// temp file and rename so a crash never leaves a truncated pool.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty pool path")
	}
	return &FileStore{path: path, now: time.Now}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) Upsert(ctx context.Context, id Identity) (Identity, error) {
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Identity{}, err
	}
	stored := stamp(id, s.now())
	found := false
	for i := range all {
		if all[i].AccountID == id.AccountID {
			all[i] = merge(all[i], id)
			stored = all[i]
			found = true
			break
		}
	}
	if !found {
		all = append(all, stored)
	}

	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return Identity{}, err
	}
	if err := writeFileAtomic(s.path, append(b, '\n')); err != nil {
		return Identity{}, fmt.Errorf("write pool: %w", err)
	}
	return stored, nil
}

func (s *FileStore) Close() error { return nil }

// fileRecord accepts the older "name" key for the display name.
type fileRecord struct {
	Identity
	LegacyName string `json:"name,omitempty"`
}

func (s *FileStore) load() ([]Identity, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	// A single record on its own is a pool of one.
	if b[0] == '{' {
		b = append(append([]byte{'['}, b...), ']')
	}

	sch, err := compiledPoolSchema()
	if err != nil {
		return nil, fmt.Errorf("compile pool schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse pool file: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate pool file: %w", err)
	}

	var recs []fileRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("parse pool file: %w", err)
	}
	out := make([]Identity, 0, len(recs))
	for _, r := range recs {
		id := r.Identity
		if id.Name == "" {
			id.Name = r.LegacyName
		}
		out = append(out, id)
	}
	return out, nil
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
