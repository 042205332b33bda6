package tags

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedWriter struct {
	err   error
	block bool
	calls []setCall
}

func (w *scriptedWriter) SetContainer(ctx context.Context, belonging TagID, container *PageRef) error {
	if w.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, setCall{belonging: belonging, container: container})
	return nil
}

func TestDispatcherAppliesSetContainer(t *testing.T) {
	writer := &scriptedWriter{}
	dispatcher, err := NewDispatcher(DispatcherConfig{Content: writer})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	container := mustPageRef(t, "11223344-5566-7788-99aa-bbccddeeff00")
	intent := MutationIntent{
		Kind:      MutationSetContainer,
		Belonging: mustTagID(t, "AABBCCDDEE0011"),
		Container: &container,
	}
	if err := dispatcher.Apply(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.calls) != 1 {
		t.Fatalf("expected one relation write, got %d", len(writer.calls))
	}
	if writer.calls[0].container == nil || *writer.calls[0].container != container {
		t.Fatalf("unexpected container in relation write")
	}
}

func TestDispatcherRevertWithNilContainerClearsRelation(t *testing.T) {
	writer := &scriptedWriter{}
	dispatcher, err := NewDispatcher(DispatcherConfig{Content: writer})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	intent := MutationIntent{
		Kind:      MutationRevertContainer,
		Belonging: mustTagID(t, "AABBCCDDEE0011"),
	}
	if err := dispatcher.Apply(context.Background(), intent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.calls) != 1 || writer.calls[0].container != nil {
		t.Fatalf("expected one clearing write, got %+v", writer.calls)
	}
}

func TestDispatcherWrapsCollaboratorFailure(t *testing.T) {
	writer := &scriptedWriter{err: errors.New("relation rejected")}
	dispatcher, err := NewDispatcher(DispatcherConfig{Content: writer})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	intent := MutationIntent{
		Kind:      MutationSetContainer,
		Belonging: mustTagID(t, "AABBCCDDEE0011"),
	}
	applyErr := dispatcher.Apply(context.Background(), intent)
	if !errors.Is(applyErr, ErrMutationFailed) {
		t.Fatalf("expected ErrMutationFailed, got %v", applyErr)
	}
}

func TestDispatcherTimesOutSlowWrites(t *testing.T) {
	writer := &scriptedWriter{block: true}
	dispatcher, err := NewDispatcher(DispatcherConfig{Content: writer, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	intent := MutationIntent{
		Kind:      MutationSetContainer,
		Belonging: mustTagID(t, "AABBCCDDEE0011"),
	}
	applyErr := dispatcher.Apply(context.Background(), intent)
	if !errors.Is(applyErr, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", applyErr)
	}
}

func TestNewDispatcherRequiresWriter(t *testing.T) {
	if _, err := NewDispatcher(DispatcherConfig{}); err == nil {
		t.Fatalf("expected constructor error without a content writer")
	}
}
