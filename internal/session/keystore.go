package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alecgard/quotedesk/internal/secret"
	"gopkg.in/yaml.v3"
)

// MemoryKeyStore keeps values for the lifetime of the process.
type MemoryKeyStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKeyStore returns an empty MemoryKeyStore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{values: make(map[string]string)}
}

func (m *MemoryKeyStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKeyStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKeyStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileKeyStore keeps values in a YAML file readable only by its owner.
// Values are sealed with the given Sealer; a nil Sealer stores them in the
// clear. The file is rewritten atomically on every change.
type FileKeyStore struct {
	path   string
	sealer *secret.Sealer
	mu     sync.Mutex
}

// NewFileKeyStore returns a FileKeyStore at path. The file and its
// directory are created on first write.
func NewFileKeyStore(path string, sealer *secret.Sealer) *FileKeyStore {
	return &FileKeyStore{path: path, sealer: sealer}
}

type stateFile struct {
	Values map[string]string `yaml:"values"`
}

func (f *FileKeyStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	stored, ok := values[key]
	if !ok {
		return "", false, nil
	}
	v, err := f.sealer.Open(key, stored)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", key, err)
	}
	return v, true, nil
}

func (f *FileKeyStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	sealed, err := f.sealer.Seal(key, value)
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	values[key] = sealed
	return f.write(values)
}

func (f *FileKeyStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

func (f *FileKeyStore) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var sf stateFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if sf.Values == nil {
		sf.Values = make(map[string]string)
	}
	return sf.Values, nil
}

func (f *FileKeyStore) write(values map[string]string) error {
	data, err := yaml.Marshal(stateFile{Values: values})
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting state file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
