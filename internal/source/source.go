// Package source discovers candidate photo files under one or more roots.
package source

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-finder/internal/constants"
)

// ErrSource marks a root that could not be enumerated.
var ErrSource = errors.New("source unavailable")

// SourceError is returned for every root that is missing or unreadable.
type SourceError struct {
	Root string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("cannot read source %s: %v", e.Root, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSource, e.Err}
}

// Candidate is a discovered image file.
type Candidate struct {
	Path string // full path as discovered
	Name string // base file name, the stable identifier across runs
	Size int64
}

type Options struct {
	// Recursive descends into subdirectories (volume scan). Otherwise only
	// the files directly inside each root are considered.
	Recursive bool
	// Logger receives warnings about skipped entries. Defaults to log.Default().
	Logger *log.Logger
}

// IsImageFile checks if a file has a supported image extension
func IsImageFile(name string) bool {
	return constants.ImageExtensions[strings.ToLower(filepath.Ext(name))]
}

type walker struct {
	opts      Options
	seenDirs  map[string]bool
	seenFiles map[string]bool
	found     []Candidate
}

// Enumerate lists image files under the given roots, sorted by path.
// Directories reached through symlinks are followed, each physical directory
// and file is reported at most once. Roots that fail produce a *SourceError;
// the returned error joins all of them while the candidates of healthy roots
// are still returned.
func Enumerate(roots []string, opts Options) ([]Candidate, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	w := &walker{
		opts:      opts,
		seenDirs:  make(map[string]bool),
		seenFiles: make(map[string]bool),
	}

	var errs []error
	for _, root := range roots {
		if err := w.walkRoot(root); err != nil {
			errs = append(errs, &SourceError{Root: root, Err: err})
		}
	}

	sort.Slice(w.found, func(i, j int) bool {
		return w.found[i].Path < w.found[j].Path
	})
	return w.found, errors.Join(errs...)
}

func (w *walker) walkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return w.walkDir(root, true)
}

func (w *walker) walkDir(dir string, isRoot bool) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if isRoot {
			return err
		}
		w.opts.Logger.Printf("Warning: skipping %s: %v", dir, err)
		return nil
	}
	resolved, _ = filepath.Abs(resolved)
	if w.seenDirs[resolved] {
		return nil
	}
	w.seenDirs[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		if isRoot {
			return err
		}
		w.opts.Logger.Printf("Warning: skipping unreadable directory %s: %v", dir, err)
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		// stat follows symlinks, so linked directories and files resolve here
		info, err := os.Stat(path)
		if err != nil {
			w.opts.Logger.Printf("Warning: skipping %s: %v", path, err)
			continue
		}

		if info.IsDir() {
			if w.opts.Recursive {
				_ = w.walkDir(path, false)
			}
			continue
		}
		// "._" files are AppleDouble metadata forks copied from macOS volumes
		if !info.Mode().IsRegular() || strings.HasPrefix(name, "._") || !IsImageFile(name) {
			continue
		}

		if realFile, err := filepath.EvalSymlinks(path); err == nil {
			realFile, _ = filepath.Abs(realFile)
			if w.seenFiles[realFile] {
				continue
			}
			w.seenFiles[realFile] = true
		}

		w.found = append(w.found, Candidate{Path: path, Name: name, Size: info.Size()})
	}
	return nil
}

// DedupeByName keeps the first candidate for every base name and returns the
// shadowed ones separately. Input order decides which one wins.
func DedupeByName(candidates []Candidate) (unique, duplicates []Candidate) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.Name] {
			duplicates = append(duplicates, c)
			continue
		}
		seen[c.Name] = true
		unique = append(unique, c)
	}
	return unique, duplicates
}
