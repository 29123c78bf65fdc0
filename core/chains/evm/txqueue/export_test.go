package txqueue

import "context"

// SanityCheckForTest exposes sanityCheck to the external test package, the
// standard export_test.go pattern for testing an unexported method from
// black-box tests.
func (r *Reconciler) SanityCheckForTest(ctx context.Context) {
	r.sanityCheck(ctx)
}
