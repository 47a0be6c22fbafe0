package unit

import (
	"io"
	"iter"
)

// Case is one input value a unit's Evaluate consumes.
type Case = any

// Cursor walks a unit's cases lazily. Next returns ok=false once exhausted.
// A Cursor is not safe for concurrent use; the manager serialises access.
type Cursor interface {
	Next() (c Case, ok bool, err error)
}

// CursorFunc adapts a function to Cursor.
type CursorFunc func() (Case, bool, error)

func (f CursorFunc) Next() (Case, bool, error) { return f() }

// CloseCursor releases resources held by a cursor abandoned before it was
// exhausted.
func CloseCursor(c Cursor) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Empty yields nothing.
func Empty() Cursor {
	return CursorFunc(func() (Case, bool, error) { return nil, false, nil })
}

// Single yields exactly one case.
func Single(c Case) Cursor {
	done := false
	return CursorFunc(func() (Case, bool, error) {
		if done {
			return nil, false, nil
		}
		done = true
		return c, true, nil
	})
}

// Slice yields the items in order.
func Slice[T any](items []T) Cursor {
	i := 0
	return CursorFunc(func() (Case, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		c := items[i]
		i++
		return c, true, nil
	})
}

// Range yields the integers in [start, end).
func Range(start, end int) Cursor {
	next := start
	return CursorFunc(func() (Case, bool, error) {
		if next >= end {
			return nil, false, nil
		}
		c := next
		next++
		return c, true, nil
	})
}

// seqCursor drives an iterator through iter.Pull.
type seqCursor struct {
	next func() (Case, bool)
	stop func()
}

// Seq adapts a push iterator. The returned cursor implements io.Closer so an
// abandoned iteration is stopped.
func Seq(seq iter.Seq[Case]) Cursor {
	next, stop := iter.Pull(seq)
	return &seqCursor{next: next, stop: stop}
}

func (s *seqCursor) Next() (Case, bool, error) {
	c, ok := s.next()
	if !ok {
		s.stop()
	}
	return c, ok, nil
}

func (s *seqCursor) Close() error {
	s.stop()
	return nil
}
