// Package pagination describes zero-indexed page windows over a counted result set.
package pagination

// Window is one zero-indexed page of Size rows.
type Window struct {
	Page int
	Size int
}

// Offset returns the number of rows before the window.
func (w Window) Offset() int {
	return w.Page * w.Size
}

// Within reports whether the window starts before total, i.e. whether reading
// it can return any row. A short final window is still within.
func (w Window) Within(total int) bool {
	return w.Size > 0 && w.Offset() < total
}

// Next returns the following window.
func (w Window) Next() Window {
	return Window{Page: w.Page + 1, Size: w.Size}
}

// Count returns how many windows of size cover total rows.
func Count(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
