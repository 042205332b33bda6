package tags

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrMalformedTap indicates the tap slug does not start with a tag identifier.
	ErrMalformedTap = errors.New("tags: malformed tap")
	// ErrMalformedCounter indicates a tag identifier followed by an unparseable
	// counter suffix. The returned descriptor still carries the identifier so
	// the redirect path can proceed without the counter.
	ErrMalformedCounter = errors.New("tags: malformed tap counter")
)

// tapPattern is the single source of truth for the inbound tap shape: a
// 14-character hex identifier optionally followed by the literal separator
// 'x' and a counter suffix. Anchors reject whitespace and extra segments.
var tapPattern = regexp.MustCompile(`^([0-9A-Fa-f]{14})(?:x(.*))?$`)

// TapCounter is a hardware scan counter. It increments on every physical tap
// and is used only for replay detection, never for containment truth.
type TapCounter uint32

// TapDescriptor is the decoded form of one inbound tap slug.
type TapDescriptor struct {
	ID      TagID
	Counter *TapCounter
}

// ParseTapDescriptor decodes the path fragment following the routing prefix.
// The identifier is accepted in any case and canonicalized by ParseTagID.
// A well-formed identifier with a garbage counter suffix returns the
// descriptor alongside ErrMalformedCounter; anything else fails with
// ErrMalformedTap.
func ParseTapDescriptor(raw string) (TapDescriptor, error) {
	groups := tapPattern.FindStringSubmatch(raw)
	if groups == nil {
		return TapDescriptor{}, fmt.Errorf("%w: %q", ErrMalformedTap, raw)
	}

	id, err := ParseTagID(groups[1])
	if err != nil {
		return TapDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedTap, err)
	}

	descriptor := TapDescriptor{ID: id}
	if len(raw) == tagIDLength {
		return descriptor, nil
	}

	value, err := strconv.ParseUint(groups[2], 10, 32)
	if err != nil {
		return descriptor, fmt.Errorf("%w: %q", ErrMalformedCounter, groups[2])
	}
	counter := TapCounter(value)
	descriptor.Counter = &counter
	return descriptor, nil
}
