// Package journal stores run and interlock events as a JSON-lines file, one
// durable append per event.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

type FileJournal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{path: path, file: f}, nil
}

// Append writes one event and syncs it to disk. Events are rare (run
// transitions, trips, resets), so the per-event fsync cost is irrelevant
// next to the durability it buys.
func (j *FileJournal) Append(e domain.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(b); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return j.file.Sync()
}

// Replay streams every stored event through fn in append order. A torn final
// line from an interrupted write is skipped; corruption anywhere else is an
// error.
func (j *FileJournal) Replay(fn func(domain.Event) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pendingErr error
	for scanner.Scan() {
		if pendingErr != nil {
			return pendingErr
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// Only acceptable as the very last line.
			pendingErr = fmt.Errorf("journal corrupt entry: %w", err)
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

var _ ports.EventJournal = (*FileJournal)(nil)
