package backup

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Prune removes the oldest snapshots of dir, keeping the newest keep.
func Prune(dir string, keep int) error {
	if keep < 1 {
		return errors.New("keep less than one")
	}
	files, err := List(dir)
	if err != nil {
		return errors.Errorf("listing snapshots: %s", err)
	}
	if len(files) <= keep {
		return nil
	}
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(filepath.Join(dir, f)); err != nil {
			return errors.Errorf("os remove: %s", err)
		}
	}
	return nil
}

// List returns the snapshot file names of dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Errorf("read dir: %s", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, FilenamePrefix+"_") {
			continue
		}
		if !strings.HasSuffix(name, ".db") && !strings.HasSuffix(name, ".db"+extension) {
			continue
		}
		names = append(names, name)
	}
	// Timestamps in names are fixed width UTC, so lexical order is
	// chronological.
	sort.Strings(names)
	return names, nil
}
