package eventlog

import "iter"

type Iterable[T any] interface {
	Iterator() iter.Seq2[T, error]
}

type Appender[T any] interface {
	Append(item T) error
}

// Discard is an Appender that drops every item.
type Discard[T any] struct{}

func (Discard[T]) Append(T) error { return nil }
