// Package simthread is a small concurrency test helper built on
// golang.org/x/sync/errgroup, giving that dependency a real (test) import
// site instead of leaving it only an indirect requirement the way it sat
// in the teacher's own go.mod.
package simthread

import "golang.org/x/sync/errgroup"

// RunConcurrent runs n copies of fn concurrently, each passed its index,
// and returns the first error any of them returned (if any).
func RunConcurrent(n int, fn func(i int) error) error {
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
