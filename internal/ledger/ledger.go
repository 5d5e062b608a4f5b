// Package ledger keeps the durable list of photos that finished ingestion.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Ledger is an append-only set of completed file names backed by a text
// file with one name per line. Safe for concurrent use.
type Ledger struct {
	path string

	mu   sync.Mutex
	file *os.File
	done map[string]bool
}

// Open loads the ledger at path, creating the file if it does not exist.
func Open(path string) (*Ledger, error) {
	done, err := read(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	if err := terminateLastLine(f); err != nil {
		f.Close()
		return nil, err
	}

	return &Ledger{path: path, file: f, done: done}, nil
}

// terminateLastLine appends a newline when the file does not end with one,
// so the next entry starts on its own line.
func terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read ledger tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	return nil
}

// Read returns the completed names in the ledger at path, sorted, without
// opening it for writing. A missing file has no names.
func Read(path string) ([]string, error) {
	done, err := read(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(done))
	for name := range done {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func read(path string) (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return done, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		// names are kept byte-exact, only a CRLF terminator is stripped
		name := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(name) != "" {
			done[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	return done, nil
}

// Path returns the backing file location.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) IsDone(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[name]
}

// MarkDone durably records name as completed. The line is written with a
// single append and synced before returning. Marking a name twice is a no-op.
func (l *Ledger) MarkDone(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("invalid ledger entry %q", name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done[name] {
		return nil
	}
	if l.file == nil {
		return errors.New("ledger is closed")
	}

	if _, err := l.file.Write([]byte(name + "\n")); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	l.done[name] = true
	return nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// Names returns the completed names in sorted order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.done))
	for name := range l.done {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
