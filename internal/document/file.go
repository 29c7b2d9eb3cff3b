package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrLocked   = errors.New("document locked by another process")
)

// ParseError reports a document that exists but cannot be decoded or fails
// validation.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse document %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// File is the on-disk JSON form of one run's document.
type File struct {
	path string
	lock *flock.Flock
}

// Open returns the file for runID under dir. Nothing is read or created.
func Open(dir, runID string) *File {
	path := filepath.Join(dir, runID+".json")
	return &File{
		path: path,
		lock: flock.New(filepath.Join(dir, runID+".lock")),
	}
}

func (f *File) Path() string { return f.path }

func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *File) Load() (*Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Decode(f.path, data)
}

// Decode parses a document and validates every analysis in it.
func Decode(path string, data []byte) (*Document, error) {
	doc := empty()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]AgentRecord)
	}
	if doc.Messages == nil {
		doc.Messages = make(Mailbox)
	}
	if doc.Analyses == nil {
		doc.Analyses = make(map[string]Analysis)
	}
	for name, a := range doc.Analyses {
		if string(a.Kind) != name {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("%w: analysis under %s has kind %s", ErrSchema, name, a.Kind)}
		}
	}
	return doc, nil
}

// Encode renders doc the way Save writes it.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes doc with a temp file and rename so readers never observe a
// partial document.
func (f *File) Save(doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create documents dir: %w", err)
	}
	if err := atomicwriter.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// TryLock takes the run's advisory lock without blocking.
func (f *File) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create documents dir: %w", err)
	}
	ok, err := f.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (f *File) Unlock() error {
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock document: %w", err)
	}
	return nil
}

// Backup copies the current document next to it as <run-id>.<suffix>.json.
func (f *File) Backup(suffix string) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read document: %w", err)
	}
	ext := filepath.Ext(f.path)
	dst := f.path[:len(f.path)-len(ext)] + "." + suffix + ext
	if err := atomicwriter.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

// Remove deletes the document and its lock file.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document: %w", err)
	}
	if err := os.Remove(f.lock.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}
