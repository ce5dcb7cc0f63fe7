// Package persist writes in-memory state to JSON files in the background.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sauerbraten/jsonfile"
)

// File saves the value returned by a snapshot function to a path. Saves requested with Schedule
// are coalesced and performed by a single goroutine; every save serializes the state at the time
// it runs, so no requested change is lost.
type File struct {
	path     string
	snapshot func() interface{}
	log      *slog.Logger

	µ       sync.Mutex
	idle    *sync.Cond
	dirty   bool
	running bool

	writeµ sync.Mutex
}

// NewFile returns a File saving snapshot() to path. A nil logger means slog.Default().
func NewFile(path string, snapshot func() interface{}, log *slog.Logger) *File {
	if log == nil {
		log = slog.Default()
	}
	f := &File{
		path:     path,
		snapshot: snapshot,
		log:      log.With("file", path),
	}
	f.idle = sync.NewCond(&f.µ)
	return f
}

func (f *File) Path() string { return f.path }

// Schedule requests a save without blocking. Errors are logged.
func (f *File) Schedule() {
	f.µ.Lock()
	defer f.µ.Unlock()
	f.dirty = true
	if !f.running {
		f.running = true
		go f.run()
	}
}

func (f *File) run() {
	for {
		f.µ.Lock()
		if !f.dirty {
			f.running = false
			f.idle.Broadcast()
			f.µ.Unlock()
			return
		}
		f.dirty = false
		f.µ.Unlock()

		if err := f.Save(); err != nil {
			f.log.Warn("could not save state", "error", err)
		}
	}
}

// Wait blocks until all scheduled saves are done.
func (f *File) Wait() {
	f.µ.Lock()
	defer f.µ.Unlock()
	for f.running {
		f.idle.Wait()
	}
}

// Flush waits for scheduled saves, then saves once more synchronously.
func (f *File) Flush() error {
	f.Wait()
	return f.Save()
}

// Save writes the current state to a temporary file next to the target, then renames it into place.
func (f *File) Save() error {
	f.writeµ.Lock()
	defer f.writeµ.Unlock()

	start := time.Now()

	data, err := json.MarshalIndent(f.snapshot(), "", "\t")
	if err != nil {
		return fmt.Errorf("persist: encoding %s: %w", f.path, err)
	}

	err = writeAtomic(f.path, data)
	if err != nil {
		return err
	}

	f.log.Debug("saved state", "bytes", len(data), "took", time.Since(start))
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// Load decodes the JSON file at path into v. Files edited by hand may contain // comments.
// A missing file is not an error: found is false and v is left untouched.
func Load(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}

	// the comment filter mangles escaped quotes inside strings, so only use it
	// for files that are not plain JSON
	if json.Unmarshal(data, v) == nil {
		return true, nil
	}
	if err = jsonfile.ParseFile(path, v); err != nil {
		return true, fmt.Errorf("persist: parsing %s: %w", path, err)
	}
	return true, nil
}
