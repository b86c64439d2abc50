// Package critical brackets short sections that must not interleave with
// interrupt handlers. Sections must not nest.
package critical

// Do runs fn inside a critical section.
func Do(fn func()) {
	st := Enter()
	defer Exit(st)
	fn()
}
