package tags

// ReplayVerdict classifies an observed tap counter against the last value
// seen for the same tag.
type ReplayVerdict string

const (
	// ReplayFresh marks a counter strictly above the last seen value (or the
	// first counter ever observed). The caller advances last seen.
	ReplayFresh ReplayVerdict = "fresh"
	// ReplayNoCounter marks a tap without a counter. Treated as fresh for the
	// redirect and mutation paths but never advances last seen.
	ReplayNoCounter ReplayVerdict = "no_counter"
	// ReplayStale marks a replayed or out-of-order counter. The redirect still
	// proceeds; interaction state and mutations must not.
	ReplayStale ReplayVerdict = "stale"
)

// Allows reports whether the verdict permits advancing interaction state.
func (v ReplayVerdict) Allows() bool {
	return v != ReplayStale
}

// CheckReplay compares an observed counter against the last seen value.
// Hardware counters can wrap or reset, so the guard never fails hard: the
// worst outcome is declining to treat a tap as fresh.
func CheckReplay(lastSeen, observed *TapCounter) ReplayVerdict {
	if observed == nil {
		return ReplayNoCounter
	}
	if lastSeen == nil {
		return ReplayFresh
	}
	if *observed <= *lastSeen {
		return ReplayStale
	}
	return ReplayFresh
}
