package tags

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const tagIDLength = 14

var (
	// ErrInvalidTagID indicates a tag identifier with the wrong length or a non-hex character.
	ErrInvalidTagID = errors.New("tags: invalid tag id")
	// ErrInvalidPageRef indicates text that does not contain exactly one page identifier.
	ErrInvalidPageRef = errors.New("tags: invalid page ref")
)

// TagID is a validated 14-character hexadecimal tag identifier, canonically uppercase.
type TagID string

// ParseTagID validates raw input and returns a canonical TagID.
// Any letter case is accepted; the canonical form is uppercase.
func ParseTagID(rawInput string) (TagID, error) {
	if len(rawInput) != tagIDLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidTagID, tagIDLength, len(rawInput))
	}
	upper := strings.ToUpper(rawInput)
	for _, char := range upper {
		if (char < '0' || char > '9') && (char < 'A' || char > 'F') {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidTagID, char)
		}
	}
	return TagID(upper), nil
}

// String returns the canonical uppercase form.
func (id TagID) String() string {
	return string(id)
}

// PageRef is a validated content-system page identifier, canonically
// lowercase hyphenated (8-4-4-4-12).
type PageRef string

// pageRefPattern matches one page identifier, bare or hyphenated, in any
// case. Word boundaries keep a run embedded in a longer hex string from
// counting as a candidate.
var pageRefPattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[0-9a-fA-F]{32})\b`)

// ParsePageRef normalizes any accepted page reference shape to the canonical
// lowercase hyphenated form. Accepted shapes: a bare 32-hex-digit string, the
// hyphenated form in any case, or a URL whose path or query carries either
// form. URL extraction takes the last candidate; two distinct trailing
// candidates make the input ambiguous and the parse fails.
func ParsePageRef(rawInput string) (PageRef, error) {
	candidate := rawInput
	if !isBarePageID(rawInput) && !isHyphenatedPageID(rawInput) {
		matches := pageRefPattern.FindAllString(rawInput, -1)
		if len(matches) == 0 {
			return "", fmt.Errorf("%w: no page identifier in %q", ErrInvalidPageRef, rawInput)
		}
		candidate = matches[len(matches)-1]
		for _, match := range matches {
			if normalizePageID(match) != normalizePageID(candidate) {
				return "", fmt.Errorf("%w: ambiguous page identifiers in %q", ErrInvalidPageRef, rawInput)
			}
		}
	}

	parsed, err := uuid.Parse(normalizePageID(candidate))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPageRef, err)
	}
	return PageRef(parsed.String()), nil
}

// String returns the canonical lowercase hyphenated form.
func (ref PageRef) String() string {
	return string(ref)
}

func isBarePageID(value string) bool {
	if len(value) != 32 {
		return false
	}
	return pageRefPattern.FindString(value) == value
}

func isHyphenatedPageID(value string) bool {
	if len(value) != 36 {
		return false
	}
	return pageRefPattern.FindString(value) == value
}

func normalizePageID(value string) string {
	return strings.ToLower(strings.ReplaceAll(value, "-", ""))
}

func pageRefPointer(ref PageRef) *PageRef {
	value := ref
	return &value
}
