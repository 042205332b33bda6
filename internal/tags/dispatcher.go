package tags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultMutationTimeout = 3 * time.Second

var (
	// ErrMutationFailed indicates the content system rejected or failed a
	// relation write. The interaction state is never rolled back; the caller
	// surfaces a failure acknowledgment and the next tap starts fresh.
	ErrMutationFailed = errors.New("tags: mutation failed")
	errMissingContent = errors.New("tags: content writer is required")
)

// ContentWriter is the write surface of the content-system collaborator.
// SetContainer is a set-relation operation, so applying the same intent twice
// has the same observable effect as once. A nil container clears the relation.
type ContentWriter interface {
	SetContainer(ctx context.Context, belonging TagID, container *PageRef) error
}

// DispatcherConfig describes the dependencies of the mutation dispatcher.
type DispatcherConfig struct {
	Content ContentWriter
	Cache   *CacheStore
	Timeout time.Duration
	Logger  *zap.Logger
}

// Dispatcher translates mutation intents into content-system and cache
// writes. It never blocks the redirect decision: callers award it a short
// timeout and degrade to a delayed acknowledgment when it is exceeded.
type Dispatcher struct {
	content ContentWriter
	cache   *CacheStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher constructs a dispatcher with sane defaults.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Content == nil {
		return nil, errMissingContent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMutationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		content: cfg.Content,
		cache:   cfg.Cache,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Apply executes one mutation intent. Both SetContainer and RevertContainer
// reduce to a set-relation write; the revert simply targets the prior parent.
// Returns context.DeadlineExceeded (wrapped) when the write outlived the
// configured timeout, ErrMutationFailed for collaborator failures.
func (d *Dispatcher) Apply(ctx context.Context, intent MutationIntent) error {
	applyCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.content.SetContainer(applyCtx, intent.Belonging, intent.Container); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("mutation write timed out",
				zap.String("kind", string(intent.Kind)),
				zap.String("belonging", intent.Belonging.String()))
			return err
		}
		d.logger.Error("mutation write failed",
			zap.String("kind", string(intent.Kind)),
			zap.String("belonging", intent.Belonging.String()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}

	if d.cache != nil {
		if err := d.cache.MarkMutated(applyCtx, intent.Belonging); err != nil {
			// Derived bookkeeping only; the relation write already landed.
			d.logger.Warn("cache mutation stamp failed",
				zap.String("belonging", intent.Belonging.String()),
				zap.Error(err))
		}
	}
	return nil
}
