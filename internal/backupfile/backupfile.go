// Package backupfile moves backup documents between the codec and the
// filesystem.
package backupfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	namePrefix = "manholedex-backup-"
	ext        = ".json"
	nameLayout = "20060102-150405"

	// maxSize caps what Open will read into memory.
	maxSize = 1 << 30

	// maxSameSecond bounds the numbered names tried when a backup for the
	// same second already exists.
	maxSameSecond = 99
)

var (
	ErrNotJSON  = errors.New("backup file must have a .json name")
	ErrNotFound = errors.New("backup file not found")
	ErrTooLarge = errors.New("backup file too large")
	ErrExists   = errors.New("backup file already exists")
)

// Dir is a directory of dated backup documents.
type Dir struct {
	basePath string
	now      func() time.Time
}

func NewDir(basePath string) (*Dir, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Dir{basePath: basePath, now: time.Now}, nil
}

// Save writes data under a dated name and returns the full path. The file
// appears complete or not at all, and an existing backup is never replaced:
// a second save in the same second gets a numbered name.
func (d *Dir) Save(data []byte) (string, error) {
	stamp := namePrefix + d.now().Format(nameLayout)

	f, err := os.CreateTemp(d.basePath, ".backup-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		removeTemp(tmp)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		removeTemp(tmp)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	defer removeTemp(tmp)

	for n := 1; n <= maxSameSecond; n++ {
		name := stamp + ext
		if n > 1 {
			name = fmt.Sprintf("%s_%02d%s", stamp, n, ext)
		}
		path := filepath.Join(d.basePath, name)
		// Link fails when path exists, unlike Rename.
		err := os.Link(tmp, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to move backup into place: %w", err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrExists, stamp)
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to remove temporary backup file", "path", path, "error", err)
	}
}

// List returns the names of the saved backups, newest first.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), namePrefix) && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Latest returns the path of the newest saved backup.
func (d *Dir) Latest() (string, error) {
	names, err := d.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	return filepath.Join(d.basePath, names[0]), nil
}

// Path resolves name inside the directory and rejects directory traversal.
func (d *Dir) Path(name string) (string, error) {
	absBase, err := filepath.Abs(d.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(d.basePath, name))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func (d *Dir) Delete(name string) error {
	path, err := d.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Open reads a backup document. Names not ending in .json are rejected
// before the file is touched.
func Open(path string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(path), ext) {
		return nil, ErrNotJSON
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("failed to close backup file", "path", path, "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
