// Package storage holds the on-disk layout for per-user document data and
// the stores built on top of it.
//
//	<root>/<user>/documents.json      document metadata list
//	<root>/<user>/files/<doc>         original upload
//	<root>/<user>/content/<doc>.txt   extracted text
//	<root>/<user>/chunks/<doc>.json   chunk list of the retrieval index
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// ValidateID rejects ids that could escape the per-user directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) UserDir(userID string) (string, error) {
	if err := ValidateID(userID); err != nil {
		return "", err
	}
	return filepath.Join(l.Root, userID), nil
}

func (l Layout) MetadataPath(userID string) (string, error) {
	dir, err := l.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "documents.json"), nil
}

func (l Layout) FilePath(userID, docID string) (string, error) {
	return l.docPath(userID, docID, "files", "")
}

func (l Layout) ContentPath(userID, docID string) (string, error) {
	return l.docPath(userID, docID, "content", ".txt")
}

func (l Layout) ChunksPath(userID, docID string) (string, error) {
	return l.docPath(userID, docID, "chunks", ".json")
}

func (l Layout) docPath(userID, docID, kind, ext string) (string, error) {
	dir, err := l.UserDir(userID)
	if err != nil {
		return "", err
	}
	if err := ValidateID(docID); err != nil {
		return "", err
	}
	return filepath.Join(dir, kind, docID+ext), nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers observe either the old or the new file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file failed: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file failed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file failed: %w", err)
	}
	return nil
}

// ReadFile reads path, mapping a missing file to ErrNotFound.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file failed: %w", err)
	}
	return data, nil
}

// RemoveFile deletes path; a missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file failed: %w", err)
	}
	return nil
}
