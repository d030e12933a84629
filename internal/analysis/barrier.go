package analysis

import "time"

// barrier collects one result per research kind. It is owned by the dispatch
// loop and accessed from a single goroutine, so it carries no lock.
type barrier struct {
	expected []AnalysisKind
	results  map[AnalysisKind]string
	firstAt  time.Time
	filledAt time.Time
}

func newBarrier(kinds []AnalysisKind) *barrier {
	expected := make([]AnalysisKind, len(kinds))
	copy(expected, kinds)
	return &barrier{
		expected: expected,
		results:  make(map[AnalysisKind]string, len(expected)),
	}
}

// accept records a result. It returns false when the kind is not expected or
// a result for the kind was already recorded; the caller drops the event.
func (b *barrier) accept(res AnalysisResult) bool {
	found := false
	for _, k := range b.expected {
		if k == res.Kind {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if _, dup := b.results[res.Kind]; dup {
		return false
	}
	if len(b.results) == 0 {
		b.firstAt = time.Now()
	}
	b.results[res.Kind] = res.Text
	if len(b.results) == len(b.expected) {
		b.filledAt = time.Now()
	}
	return true
}

// complete reports whether every expected kind has a result.
func (b *barrier) complete() bool {
	return len(b.results) == len(b.expected)
}

// collected returns the result texts in declared kind order, independent of
// arrival order.
func (b *barrier) collected() []string {
	out := make([]string, 0, len(b.expected))
	for _, k := range b.expected {
		out = append(out, b.results[k])
	}
	return out
}

// waitDuration is the span between the first and the last result arriving.
// Zero until the barrier is complete.
func (b *barrier) waitDuration() time.Duration {
	if b.filledAt.IsZero() {
		return 0
	}
	return b.filledAt.Sub(b.firstAt)
}
