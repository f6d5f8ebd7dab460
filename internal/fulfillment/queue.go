package fulfillment

// WorkQueue filters items down to what the picker can act on, in walk order.
// The input must already be sorted by location.
func WorkQueue(items []Item, picker string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if picker != "" && it.AssignedTo != picker {
			continue
		}
		if it.Status.Pickable() {
			out = append(out, it)
		}
	}
	return out
}

// NextWorkable returns the index of the first pickable item at or after
// cursor, wrapping to the start. It returns -1 when nothing is pickable.
// A failed status write leaves the item pickable, so the same call yields the
// same position on retry.
func NextWorkable(items []Item, cursor int) int {
	n := len(items)
	if n == 0 {
		return -1
	}
	if cursor < 0 || cursor >= n {
		cursor = 0
	}
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if items[idx].Status.Pickable() {
			return idx
		}
	}
	return -1
}
