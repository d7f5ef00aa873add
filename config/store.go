package config

import (
	"fmt"
	"os"
)

// Store is the persistence medium for a Record blob. On real firmware
// this would be EEPROM; on a hosted build it's a small file on disk.
// Either way the only operations a Record needs are "read the whole
// blob" and "write the whole blob" — there is no partial-update API,
// matching how the teacher's config layer treats persistence as a
// single opaque read/write pair rather than a field-level store.
type Store interface {
	ReadBlob() ([]byte, error)
	WriteBlob(data []byte) error
}

// FileStore persists the config blob to a single file.
type FileStore struct {
	Path string
}

// NewFileStore returns a Store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) ReadBlob() ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (f *FileStore) WriteBlob(data []byte) error {
	return os.WriteFile(f.Path, data, 0o600)
}

// Load reads and decodes a Record from store. Any failure — the file
// doesn't exist yet, it's the wrong size, or the CRC doesn't match — is
// treated as a recoverable fault: Load logs nothing fatal and returns
// config.Default(). When a blob was read but fails to decode, Load also
// writes the defaults back to store (a failed write is ignored), matching
// the original firmware's behavior of re-initializing EEPROM it can't
// trust rather than refusing to boot.
func Load(store Store) Record {
	data, err := store.ReadBlob()
	if err != nil {
		return Default()
	}
	r, err := Unmarshal(data)
	if err != nil {
		d := Default()
		_ = Save(store, d)
		return d
	}
	return r
}

// Save encodes r and writes it to store.
func Save(store Store, r Record) error {
	if err := store.WriteBlob(r.Marshal()); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return nil
}
