/* SPDX-License-Identifier: BSD-2-Clause */

// Package span keeps the set of registered address ranges of one
// userfaultfd channel. Ranges are half-open and never overlap.
package span

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	// ErrOverlap is returned by Insert when the new range intersects a
	// range already in the table.
	ErrOverlap = errors.New("range overlaps a registered range")

	// ErrInvalidRange is returned for a range whose start lies past its end.
	ErrInvalidRange = errors.New("range start past end")
)

// Overlap returns the intersection of [aStart, aEnd) and [bStart, bEnd).
// ok is false when the ranges do not share a single byte.
func Overlap(aStart, aEnd, bStart, bEnd uintptr) (start, end uintptr, ok bool) {
	start = max(aStart, bStart)
	end = min(aEnd, bEnd)
	if start < end {
		return start, end, true
	}
	return 0, 0, false
}

// Entry is one registered range. An access to Start+i is presented to the
// handler as an access to Offset+i.
type Entry[T any] struct {
	Start  uintptr
	End    uintptr
	Offset uintptr
	Value  T
}

// Contains reports whether addr lies in [Start, End).
func (e Entry[T]) Contains(addr uintptr) bool {
	return e.Start <= addr && addr < e.End
}

// Translate maps an address inside the entry to the handler's view.
func (e Entry[T]) Translate(addr uintptr) uintptr {
	return e.Offset + (addr - e.Start)
}

func (e Entry[T]) String() string {
	return fmt.Sprintf("[%#x, %#x)@%#x", e.Start, e.End, e.Offset)
}

const degree = 8

// Table is an ordered set of non-overlapping entries keyed by Start.
// It is not safe for concurrent use.
type Table[T any] struct {
	tree *btree.BTreeG[Entry[T]]
}

func less[T any](a, b Entry[T]) bool {
	return a.Start < b.Start
}

// New returns an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{tree: btree.NewG(degree, less[T])}
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	return t.tree.Len()
}

// floor returns the entry with the greatest Start <= addr.
func (t *Table[T]) floor(addr uintptr) (e Entry[T], ok bool) {
	t.tree.DescendLessOrEqual(Entry[T]{Start: addr}, func(item Entry[T]) bool {
		e, ok = item, true
		return false
	})
	return e, ok
}

// Find returns the entry containing addr.
func (t *Table[T]) Find(addr uintptr) (Entry[T], bool) {
	e, ok := t.floor(addr)
	if !ok || !e.Contains(addr) {
		return Entry[T]{}, false
	}
	return e, true
}

// overlaps reports whether any entry intersects [start, end), end > start.
func (t *Table[T]) overlaps(start, end uintptr) bool {
	// Only the last entry starting before end can reach into the range.
	e, ok := t.floor(end - 1)
	return ok && e.End > start
}

// Insert adds [start, end) with the given handler offset and value. An empty
// range is accepted and not stored. The table is unchanged on error.
func (t *Table[T]) Insert(start, end, offset uintptr, value T) error {
	if start > end {
		return fmt.Errorf("%w: [%#x, %#x)", ErrInvalidRange, start, end)
	}
	if start == end {
		return nil
	}
	if t.overlaps(start, end) {
		return fmt.Errorf("%w: [%#x, %#x)", ErrOverlap, start, end)
	}
	t.tree.ReplaceOrInsert(Entry[T]{Start: start, End: end, Offset: offset, Value: value})
	return nil
}

// RemoveOverlapping drops every part of every entry that lies inside
// [start, end). Entries partially covered are trimmed to what remains on
// either side, keeping the Start+i -> Offset+i translation intact.
func (t *Table[T]) RemoveOverlapping(start, end uintptr) {
	if start >= end {
		return
	}

	var hit []Entry[T]
	t.tree.DescendLessOrEqual(Entry[T]{Start: end - 1}, func(item Entry[T]) bool {
		if item.End <= start {
			return false
		}
		hit = append(hit, item)
		return true
	})

	for _, e := range hit {
		o, c, _ := Overlap(e.Start, e.End, start, end)
		t.tree.Delete(e)
		if e.Start < o {
			t.tree.ReplaceOrInsert(Entry[T]{Start: e.Start, End: o, Offset: e.Offset, Value: e.Value})
		}
		if c < e.End {
			t.tree.ReplaceOrInsert(Entry[T]{Start: c, End: e.End, Offset: e.Translate(c), Value: e.Value})
		}
	}
}

// Clone returns an independent copy. The copy shares nodes with t until
// either side is modified, and the two may then be used from different
// goroutines.
func (t *Table[T]) Clone() *Table[T] {
	return &Table[T]{tree: t.tree.Clone()}
}

// Entries returns all entries in address order.
func (t *Table[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, t.tree.Len())
	t.tree.Ascend(func(item Entry[T]) bool {
		out = append(out, item)
		return true
	})
	return out
}

// Clear drops every entry.
func (t *Table[T]) Clear() {
	t.tree.Clear(false)
}
