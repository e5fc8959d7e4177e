package identifier

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.rowset.dev/core/model"
	"gopkg.in/yaml.v2"
)

// VirtualKey is a user-declared identifier of an entity having no usable
// physical key.
type VirtualKey struct {
	Entity  string   `yaml:"entity"`
	Columns []string `yaml:"columns,flow"`
}

// VirtualKeyStore persists VirtualKeys.
type VirtualKeyStore interface {
	// Lookup the columns of |entity|'s VirtualKey, and whether it exists.
	Lookup(entity model.EntityName) (columns []string, ok bool, err error)
	// Save the VirtualKey of |entity|, creating or replacing it.
	Save(entity model.EntityName, columns []string) error
	// List all VirtualKeys, ordered on entity.
	List() ([]VirtualKey, error)
}

// MemoryVirtualKeyStore is a VirtualKeyStore which is not persisted.
type MemoryVirtualKeyStore struct {
	keys map[string][]string
	mu   sync.Mutex
}

// NewMemoryVirtualKeyStore returns an empty MemoryVirtualKeyStore.
func NewMemoryVirtualKeyStore() *MemoryVirtualKeyStore {
	return &MemoryVirtualKeyStore{keys: make(map[string][]string)}
}

// Lookup implements VirtualKeyStore.
func (s *MemoryVirtualKeyStore) Lookup(entity model.EntityName) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cols, ok = s.keys[entity.String()]
	return append([]string(nil), cols...), ok, nil
}

// Save implements VirtualKeyStore.
func (s *MemoryVirtualKeyStore) Save(entity model.EntityName, columns []string) error {
	s.mu.Lock()
	s.keys[entity.String()] = append([]string(nil), columns...)
	s.mu.Unlock()
	return nil
}

// List implements VirtualKeyStore.
func (s *MemoryVirtualKeyStore) List() ([]VirtualKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listKeys(s.keys), nil
}

func listKeys(m map[string][]string) []VirtualKey {
	var out = make([]VirtualKey, 0, len(m))
	for entity, cols := range m {
		out = append(out, VirtualKey{Entity: entity, Columns: append([]string(nil), cols...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// FileVirtualKeyStore is a VirtualKeyStore which materializes itself as a
// YAML file within a directory. The file is re-written on every Save.
type FileVirtualKeyStore struct {
	fs  afero.Fs
	dir string
	mem *MemoryVirtualKeyStore
	mu  sync.Mutex
}

// NewFileVirtualKeyStore returns a FileVirtualKeyStore of directory |dir|
// within |fs|, loading its current VirtualKeys (if any).
func NewFileVirtualKeyStore(fs afero.Fs, dir string) (*FileVirtualKeyStore, error) {
	var store = &FileVirtualKeyStore{
		fs:  fs,
		dir: dir,
		mem: NewMemoryVirtualKeyStore(),
	}

	var b, err = afero.ReadFile(fs, store.currentPath())
	if os.IsNotExist(err) {
		return store, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading virtual keys file")
	}

	var keys []VirtualKey
	if err = yaml.UnmarshalStrict(b, &keys); err != nil {
		return nil, errors.WithMessagef(err, "decoding %s", store.currentPath())
	}
	for _, k := range keys {
		store.mem.keys[k.Entity] = k.Columns
	}
	return store, nil
}

// Lookup implements VirtualKeyStore.
func (s *FileVirtualKeyStore) Lookup(entity model.EntityName) ([]string, bool, error) {
	return s.mem.Lookup(entity)
}

// List implements VirtualKeyStore.
func (s *FileVirtualKeyStore) List() ([]VirtualKey, error) { return s.mem.List() }

// Save implements VirtualKeyStore. The complete set of VirtualKeys is
// written to a temporary file, which is then renamed to its well-known
// location so that a partially written file is never read.
func (s *FileVirtualKeyStore) Save(entity model.EntityName, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prior, existed, _ = s.mem.Lookup(entity)
	_ = s.mem.Save(entity, columns)

	var err = s.write()
	if err != nil {
		// Restore the in-memory state to match the file.
		if existed {
			_ = s.mem.Save(entity, prior)
		} else {
			s.mem.mu.Lock()
			delete(s.mem.keys, entity.String())
			s.mem.mu.Unlock()
		}
	}
	return err
}

func (s *FileVirtualKeyStore) write() error {
	var keys, _ = s.mem.List()

	var b, err = yaml.Marshal(keys)
	if err != nil {
		return errors.WithMessage(err, "encoding virtual keys")
	}
	if err = s.fs.MkdirAll(s.dir, 0700); err != nil {
		return errors.WithMessage(err, "creating virtual keys directory")
	}

	f, err := s.fs.OpenFile(s.nextPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.WithMessage(err, "creating virtual keys file")
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return errors.WithMessage(err, "writing virtual keys file")
	} else if err = f.Close(); err != nil {
		return errors.WithMessage(err, "closing virtual keys file")
	} else if err = s.fs.Rename(s.nextPath(), s.currentPath()); err != nil {
		return errors.WithMessage(err, "renaming next => current")
	}
	return nil
}

func (s *FileVirtualKeyStore) currentPath() string { return filepath.Join(s.dir, "virtual-keys.yaml") }
func (s *FileVirtualKeyStore) nextPath() string    { return filepath.Join(s.dir, "next.yaml") }
