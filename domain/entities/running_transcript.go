package entities

import "strings"

// RecentFragmentCapacity is how many final fragments are remembered for exact-duplicate detection
const RecentFragmentCapacity = 5

// ReconcileResult describes what a final fragment contributed to the running transcript
type ReconcileResult struct {
	IsNew        bool
	UpdatedText  string
	AppendedText string
}

// RunningTranscript merges final fragments of one session into a single
// de-duplicated transcript and tracks the latest interim fragment.
//
// CommittedText only grows, except when a new fragment is a superset of
// everything committed so far, in which case it replaces it.
type RunningTranscript struct {
	committed string
	recent    []string
	interim   string
	finals    int
}

// CommittedText returns the accumulated final transcript
func (t *RunningTranscript) CommittedText() string {
	return t.committed
}

// InterimText returns the latest interim fragment
func (t *RunningTranscript) InterimText() string {
	return t.interim
}

// FinalCount returns how many final fragments contributed new content
func (t *RunningTranscript) FinalCount() int {
	return t.finals
}

// RecentFragments returns a copy of the duplicate-detection window, oldest first
func (t *RunningTranscript) RecentFragments() []string {
	out := make([]string, len(t.recent))
	copy(out, t.recent)
	return out
}

// SetInterim replaces the interim fragment wholesale
func (t *RunningTranscript) SetInterim(text string) {
	t.interim = text
}

// Reconcile merges a final fragment into the committed text. Processing a
// final always clears the interim fragment. A whitespace-only fragment is
// ignored and never enters the recent-fragment window.
func (t *RunningTranscript) Reconcile(fragment string) ReconcileResult {
	t.interim = ""

	if strings.TrimSpace(fragment) == "" {
		return ReconcileResult{UpdatedText: t.committed}
	}

	for _, seen := range t.recent {
		if seen == fragment {
			return ReconcileResult{UpdatedText: t.committed}
		}
	}

	t.recent = append(t.recent, fragment)
	if len(t.recent) > RecentFragmentCapacity {
		t.recent = append(t.recent[:0], t.recent[len(t.recent)-RecentFragmentCapacity:]...)
	}

	if t.committed == "" {
		return t.commit(fragment, fragment)
	}

	if strings.Contains(t.committed, fragment) {
		return ReconcileResult{UpdatedText: t.committed}
	}

	if strings.Contains(fragment, t.committed) {
		appended := fragment
		if strings.HasPrefix(fragment, t.committed) {
			appended = fragment[len(t.committed):]
		}
		return t.commit(fragment, appended)
	}

	if k := longestOverlap(t.committed, fragment); k > 0 {
		rest := fragment[k:]
		if strings.TrimSpace(rest) == "" {
			return ReconcileResult{UpdatedText: t.committed}
		}
		return t.commit(t.committed+rest, rest)
	}

	appended := " " + fragment
	return t.commit(t.committed+appended, appended)
}

func (t *RunningTranscript) commit(updated, appended string) ReconcileResult {
	t.committed = updated
	t.finals++
	return ReconcileResult{IsNew: true, UpdatedText: updated, AppendedText: appended}
}

// longestOverlap returns the largest k in [1, min(len(a), len(b))-1] such
// that the last k bytes of a equal the first k bytes of b, or 0.
func longestOverlap(a, b string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	best := 0
	for k := 1; k < limit; k++ {
		if a[len(a)-k:] == b[:k] {
			best = k
		}
	}
	return best
}
