package tags

import "testing"

func mustTagID(t *testing.T, value string) TagID {
	t.Helper()
	id, err := ParseTagID(value)
	if err != nil {
		t.Fatalf("unexpected tag id error: %v", err)
	}
	return id
}

func mustPageRef(t *testing.T, value string) PageRef {
	t.Helper()
	ref, err := ParsePageRef(value)
	if err != nil {
		t.Fatalf("unexpected page ref error: %v", err)
	}
	return ref
}

func counterOf(value TapCounter) *TapCounter {
	v := value
	return &v
}
