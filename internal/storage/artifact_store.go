package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore manages finalized archives inside one directory. Archive names
// are derived from the item id and its expected checksum.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a store rooted at dir. The directory is created on demand.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

func (s *ArtifactStore) Dir() string {
	return s.dir
}

// ArtifactName returns "<itemID>+<checksum>.ipa".
func ArtifactName(itemID, checksum string) string {
	return fmt.Sprintf("%s+%s.ipa", itemID, checksum)
}

// Path returns the absolute location of name inside the store.
func (s *ArtifactStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Ensure creates the store directory.
func (s *ArtifactStore) Ensure() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// Exists checks whether a regular file called name is present.
func (s *ArtifactStore) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// PurgeStale removes every archive of itemID except keep and returns the removed names.
func (s *ArtifactStore) PurgeStale(itemID, keep string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var removed []string
	prefix := itemID + "+"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove stale artifact %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Place moves src into the store as name, replacing any prior occupant.
// A rename across filesystems falls back to copy and remove.
func (s *ArtifactStore) Place(src, name string) error {
	if err := s.Ensure(); err != nil {
		return err
	}

	dst := s.Path(name)
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove prior artifact: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename copied artifact: %w", err)
	}
	os.Remove(src)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create artifact copy: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close artifact copy: %w", err)
	}
	return nil
}
