// Package farlong implements the scheduling order the batch controller
// uses to visit channels: always the valid channel farthest (in the
// fixture's circular layout) from whichever was selected last, among
// those that haven't been touched more recently than their peers.
package farlong

import "time"

// Item is one schedulable element: a fixture channel, in practice.
type Item interface {
	// Distance is the circular distance to other, in the caller's own
	// units (step count, channel index, ...).
	Distance(other Item) uint64
	LastSelected() time.Time
	// Valid reports whether this item can still be selected. An
	// iterator with no valid items left is exhausted.
	Valid() bool
}

// Iterator is an infinite sequence over items: Next always returns the
// valid item farthest from the previous pick, restricted to the
// least-recently-selected cohort (within timeTolerance of each other),
// ties broken by the lowest original index. It repeats forever as long
// as at least one item remains valid.
type Iterator struct {
	items         []Item
	current       int
	haveCurrent   bool
	timeTolerance time.Duration
}

// New wraps items for far-long iteration. timeTolerance is the window
// within which two items' LastSelected are considered equally old.
func New(items []Item, timeTolerance time.Duration) *Iterator {
	return &Iterator{items: items, timeTolerance: timeTolerance}
}

// Next returns the next index to select, or false once no item in the
// collection is valid any more.
func (it *Iterator) Next() (int, bool) {
	if !it.haveCurrent {
		for i, item := range it.items {
			if item.Valid() {
				it.current = i
				it.haveCurrent = true
				return i, true
			}
		}
		return 0, false
	}

	cur := it.items[it.current]

	oldest := time.Time{}
	haveOldest := false
	for _, item := range it.items {
		if !item.Valid() {
			continue
		}
		ls := item.LastSelected()
		if !haveOldest || ls.Before(oldest) {
			oldest = ls
			haveOldest = true
		}
	}
	if !haveOldest {
		return 0, false
	}
	cutoff := oldest.Add(it.timeTolerance)

	bestIndex := -1
	var bestDistance uint64
	for i, item := range it.items {
		if !item.Valid() {
			continue
		}
		if !item.LastSelected().Before(cutoff) {
			continue
		}
		d := item.Distance(cur)
		if bestIndex == -1 || d > bestDistance {
			bestIndex = i
			bestDistance = d
		}
	}
	if bestIndex == -1 {
		return 0, false
	}

	it.current = bestIndex
	it.haveCurrent = true
	return bestIndex, true
}

// Reset forgets the previous selection, so the next call to Next
// returns the first valid item again.
func (it *Iterator) Reset() {
	it.haveCurrent = false
}

// CircularDistance is the standard distance function for channels
// arranged around a fixture of total positions: the shorter of the two
// arcs between i and j.
func CircularDistance(i, j, total uint64) uint64 {
	var d uint64
	if i > j {
		d = i - j
	} else {
		d = j - i
	}
	wrapped := total - d
	if wrapped < d {
		return wrapped
	}
	return d
}
