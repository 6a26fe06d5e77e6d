package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sync"
)

type syncer interface {
	Sync() error
}

// JSONLWriter appends items as one JSON object per line. Each Append is a
// single critical section, so concurrent writers never interleave within a
// line. When the destination supports Sync (e.g. *os.File) it is called
// after every line.
type JSONLWriter[T any] struct {
	mu   sync.Mutex
	dest io.Writer
}

func (jw *JSONLWriter[T]) Append(item T) error {
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshalling JSON: %w", err)
	}
	line = append(line, '\n')

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if _, err := jw.dest.Write(line); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	if s, ok := jw.dest.(syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("syncing: %w", err)
		}
	}
	return nil
}

func NewJSONLWriter[T any](dest io.Writer) *JSONLWriter[T] {
	return &JSONLWriter[T]{dest: dest}
}

type JSONLReader[T any] struct {
	scanner *bufio.Scanner
}

func (jr *JSONLReader[T]) Iterator() iter.Seq2[T, error] {
	var emptyItem T
	return func(yield func(T, error) bool) {
		line := 0
		for jr.scanner.Scan() {
			line++
			b := jr.scanner.Bytes()
			if len(b) == 0 {
				continue
			}
			var item T
			if err := json.Unmarshal(b, &item); err != nil {
				yield(emptyItem, fmt.Errorf("unmarshalling line %d: %w", line, err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := jr.scanner.Err(); err != nil {
			yield(emptyItem, err)
		}
	}
}

func NewJSONLReader[T any](src io.Reader) *JSONLReader[T] {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLReader[T]{scanner: scanner}
}
