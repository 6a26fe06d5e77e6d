package eventlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"sync"
)

// CSVWriter appends items as CSV rows, using the sorted JSON field names of
// the first item as the header. Each row is flushed as it is written. It is
// safe for concurrent use.
type CSVWriter[T any] struct {
	mu     sync.Mutex
	writer *csv.Writer
	first  bool
}

func (cw *CSVWriter[T]) Append(item T) error {
	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshalling JSON: %w", err)
	}
	data := map[string]any{}
	err = json.Unmarshal(jsonData, &data)
	if err != nil {
		return fmt.Errorf("unmarshalling JSON: %w", err)
	}
	keys := slices.Collect(maps.Keys(data))
	slices.Sort(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := data[k].(type) {
		case nil:
			values = append(values, "")
		case string:
			values = append(values, v)
		case float64:
			values = append(values, fmt.Sprintf("%d", int(v)))
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshalling field %s: %w", k, err)
			}
			values = append(values, string(b))
		}
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.first {
		if err := cw.writer.Write(keys); err != nil {
			return err
		}
		cw.first = false
	}
	if err := cw.writer.Write(values); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

func (cw *CSVWriter[T]) Flush() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.writer.Flush()
	return cw.writer.Error()
}

func NewCSVWriter[T any](dest io.Writer) *CSVWriter[T] {
	return &CSVWriter[T]{writer: csv.NewWriter(dest), first: true}
}

// CSVReader reads rows written by CSVWriter back into items. Every value is
// handed to the JSON decoder as a string, so numeric fields need the
// `,string` tag option. Repeated header rows, as produced by several runs
// appending to the same file, are skipped.
type CSVReader[T any] struct {
	reader *csv.Reader
}

func (cr *CSVReader[T]) Iterator() iter.Seq2[T, error] {
	var emptyItem T
	return func(yield func(T, error) bool) {
		var fields []string
		first := true
		for {
			record, err := cr.reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(emptyItem, err)
				return
			}

			if first {
				fields = record
				first = false
				continue
			}

			data := map[string]any{}
			isRepeatedFields := true
			for i, k := range fields {
				if k != record[i] {
					isRepeatedFields = false
				}
				data[k] = record[i]
			}
			if isRepeatedFields {
				continue
			}
			jsonData, err := json.Marshal(data)
			if err != nil {
				yield(emptyItem, fmt.Errorf("marshalling JSON: %w", err))
				return
			}
			var item T
			err = json.Unmarshal(jsonData, &item)
			if err != nil {
				yield(emptyItem, fmt.Errorf("unmarshalling JSON: %w", err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func NewCSVReader[T any](src io.Reader) *CSVReader[T] {
	return &CSVReader[T]{reader: csv.NewReader(src)}
}
