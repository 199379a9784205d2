package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// Cloner is implemented by row types. Tables hand out clones only.
type Cloner[T any] interface {
	Clone() T
}

// Table is one JSONL file fully cached in memory.
type Table[T Cloner[T]] struct {
	path string

	mu   sync.RWMutex
	rows []T
}

// NewTable opens or creates the table at path.
func NewTable[T Cloner[T]](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: data directories are shared with operators
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	rows, err := readRows[T](path)
	if err != nil {
		return nil, err
	}
	return &Table[T]{path: path, rows: rows}, nil
}

func readRows[T any](path string) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the store root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	var rows []T
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var row T
		if err := dec.Decode(&row); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, len(rows)+1, err)
		}
		rows = append(rows, row)
	}
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// All yields a clone of every row in file order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Append writes rows at the end of the file.
func (t *Table[T]) Append(rows ...T) error {
	if len(rows) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G302: table files are not secrets
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	err = encodeRows(f, rows)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", t.path, err)
	}
	for _, row := range rows {
		t.rows = append(t.rows, row.Clone())
	}
	return nil
}

// Modify passes a cloned copy of the rows to fn while holding the write lock
// and atomically rewrites the file with fn's result. Nothing is written when
// fn fails.
func (t *Table[T]) Modify(fn func(rows []T) ([]T, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]T, len(t.rows))
	for i, row := range t.rows {
		cp[i] = row.Clone()
	}
	out, err := fn(cp)
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // G304: path comes from the store root
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", t.path, err)
	}
	err = encodeRows(f, out)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = os.Rename(tmp, t.path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rewrite %s: %w", t.path, err)
	}
	t.rows = make([]T, len(out))
	for i, row := range out {
		t.rows[i] = row.Clone()
	}
	return nil
}

// encodeRows writes one JSON document per line.
func encodeRows[T any](w io.Writer, rows []T) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}
