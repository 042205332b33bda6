package tags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultInteractionWindow = 2 * time.Minute

var (
	errMissingDatabase     = errors.New("tags: database handle is required")
	errMissingCacheStore   = errors.New("tags: cache store is required")
	errMissingContentRead  = errors.New("tags: content resolver is required")
	errMissingSessionStore = errors.New("tags: session store is required")
	errMissingDispatcher   = errors.New("tags: dispatcher is required")
	// ErrTagNotFound indicates the content system knows no page for a tag.
	ErrTagNotFound = errors.New("tags: tag not found")
	noOpLogger     = zap.NewNop()
)

const (
	opServiceNew  = "tags.service.new"
	opResolveTap  = "tags.resolve_tap"
	opCreateEntry = "tags.create_entry"
	opLookupEntry = "tags.lookup_entry"
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// PageInfo is the content-system view of one page: its canonical reference,
// runtime classification, public URL, and current parent container (nil when
// the page has no parent).
type PageInfo struct {
	Ref    PageRef
	Kind   TagKind
	URL    string
	Parent *PageRef
}

// ContentResolver is the read surface of the content-system collaborator.
// ResolveTag returns ErrTagNotFound (wrapped) when no page carries the tag.
type ContentResolver interface {
	ResolveTag(ctx context.Context, id TagID) (PageInfo, error)
}

// Cache is the slice of the tag cache the resolution pipeline consumes.
type Cache interface {
	Get(ctx context.Context, id TagID) (*TagCacheEntry, error)
	Upsert(ctx context.Context, entry TagCacheEntry) error
	RecordAccess(ctx context.Context, id TagID, observed *TapCounter, verdict ReplayVerdict) error
}

// SessionStore holds per-session interaction state. Update must serialize
// concurrent calls for the same key (atomic read-modify-write) while leaving
// unrelated sessions uncontended.
type SessionStore interface {
	Get(key string) (InteractionState, bool)
	Update(key string, fn func(InteractionState) InteractionState) error
	Delete(key string)
}

// ServiceConfig describes the dependencies of the tap resolution service.
type ServiceConfig struct {
	Cache      Cache
	Content    ContentResolver
	Sessions   SessionStore
	Dispatcher *Dispatcher
	Window     time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service resolves taps: redirect, mutate-then-acknowledge, or fall back to
// the creation scaffold. Lookup and mutation failures degrade; they never
// block the redirect path.
type Service struct {
	cache      Cache
	content    ContentResolver
	sessions   SessionStore
	dispatcher *Dispatcher
	window     time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the resolution service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCacheStore)
	}
	if cfg.Content == nil {
		return nil, newServiceError(opServiceNew, "missing_content", errMissingContentRead)
	}
	if cfg.Sessions == nil {
		return nil, newServiceError(opServiceNew, "missing_sessions", errMissingSessionStore)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(opServiceNew, "missing_dispatcher", errMissingDispatcher)
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultInteractionWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		cache:      cfg.Cache,
		content:    cfg.Content,
		sessions:   cfg.Sessions,
		dispatcher: cfg.Dispatcher,
		window:     window,
		clock:      clock,
		logger:     logger,
	}, nil
}

// ResolutionAction names the three outcomes of a tap.
type ResolutionAction string

const (
	// ActionRedirect sends the client to the tag's target URL.
	ActionRedirect ResolutionAction = "redirect"
	// ActionAcknowledge confirms (or reports failure of) a move or undo.
	ActionAcknowledge ResolutionAction = "acknowledge"
	// ActionCreate falls back to the creation scaffold for unknown tags.
	ActionCreate ResolutionAction = "create"
)

// MutationAck reports the outcome of a dispatched mutation. Err is set on
// failure; Delayed is set when the write outlived its timeout and may still
// land.
type MutationAck struct {
	Intent  MutationIntent
	Err     error
	Delayed bool
}

// Resolution is the decision for one tap.
type Resolution struct {
	Action    ResolutionAction
	TargetURL string
	TagID     TagID
	Counter   *TapCounter
	Verdict   ReplayVerdict
	Ack       *MutationAck
}

// ResolveTap runs the full pipeline for one inbound tap slug: parse, replay
// check, access bookkeeping, interaction state machine, mutation dispatch,
// and finally the redirect/acknowledge/create decision.
func (s *Service) ResolveTap(ctx context.Context, sessionKey, rawSlug string) (Resolution, error) {
	descriptor, parseErr := ParseTapDescriptor(rawSlug)
	if parseErr != nil && !errors.Is(parseErr, ErrMalformedCounter) {
		return Resolution{}, newServiceError(opResolveTap, "malformed_tap", parseErr)
	}
	counterDegraded := parseErr != nil
	if counterDegraded {
		s.logger.Warn("tap counter suffix unreadable, redirect only",
			zap.String("tag_id", descriptor.ID.String()),
			zap.Error(parseErr))
	}

	entry, err := s.cache.Get(ctx, descriptor.ID)
	cacheReadFailed := err != nil
	if cacheReadFailed {
		// Cache trouble must not block resolution; fall through to lookup.
		s.logError(opResolveTap, "cache_read_failed", err, zap.String("tag_id", descriptor.ID.String()))
		entry = nil
	}

	verdict := CheckReplay(entry.LastSeen(), descriptor.Counter)

	var info *PageInfo
	targetURL := ""
	if entry != nil {
		targetURL = entry.TargetURL
	} else {
		// A failed read may hide an existing row whose bookkeeping a reseed
		// would clobber, so persist only on a true miss.
		info, targetURL = s.lookupAndSeed(ctx, descriptor, !cacheReadFailed)
	}

	if entry != nil {
		if err := s.cache.RecordAccess(ctx, descriptor.ID, descriptor.Counter, verdict); err != nil {
			s.logError(opResolveTap, "record_access_failed", err, zap.String("tag_id", descriptor.ID.String()))
		}
	}

	resolution := Resolution{
		Action:    ActionRedirect,
		TargetURL: targetURL,
		TagID:     descriptor.ID,
		Counter:   descriptor.Counter,
		Verdict:   verdict,
	}

	// A stale counter or an unreadable suffix degrades silently: the redirect
	// proceeds, interaction state stays put, no mutation fires.
	if verdict.Allows() && !counterDegraded {
		resolution.Ack = s.advanceInteraction(ctx, sessionKey, descriptor.ID, info)
	}

	if resolution.Ack != nil {
		resolution.Action = ActionAcknowledge
		return resolution, nil
	}
	if targetURL == "" {
		resolution.Action = ActionCreate
	}
	return resolution, nil
}

// lookupAndSeed resolves an uncached tag against the content system and,
// when persist is set, lazily creates its cache entry. Both steps are best
// effort.
func (s *Service) lookupAndSeed(ctx context.Context, descriptor TapDescriptor, persist bool) (*PageInfo, string) {
	resolved, err := s.content.ResolveTag(ctx, descriptor.ID)
	if errors.Is(err, ErrTagNotFound) {
		return nil, ""
	}
	if err != nil {
		s.logError(opLookupEntry, "content_lookup_failed", err, zap.String("tag_id", descriptor.ID.String()))
		return nil, ""
	}
	if !persist {
		return &resolved, resolved.URL
	}

	entry := TagCacheEntry{
		ID:          descriptor.ID,
		TargetURL:   resolved.URL,
		AccessCount: 0,
	}
	if descriptor.Counter != nil {
		seen := int64(*descriptor.Counter)
		entry.LastSeenTapCount = &seen
	}
	if err := s.cache.Upsert(ctx, entry); err != nil {
		s.logError(opCreateEntry, "cache_seed_failed", err, zap.String("tag_id", descriptor.ID.String()))
	}
	return &resolved, resolved.URL
}

// advanceInteraction feeds one tap through the move/undo machine under the
// per-session lock and dispatches any emitted intent. Returns nil when the
// tap produced no mutation.
func (s *Service) advanceInteraction(ctx context.Context, sessionKey string, id TagID, info *PageInfo) *MutationAck {
	if sessionKey == "" {
		return nil
	}

	event, parentFor := s.buildEvent(ctx, sessionKey, id, info)

	var intent *MutationIntent
	if err := s.sessions.Update(sessionKey, func(state InteractionState) InteractionState {
		applied := event
		// The previous parent was resolved outside this lock. If a concurrent
		// tap changed the pending belonging underneath, the resolved parent
		// belongs to someone else; drop it so a later revert clears the
		// relation instead of restoring the wrong page.
		if applied.PreviousContainer != nil &&
			(state.Phase != PhasePendingContainer || state.Belonging != parentFor || state.Expired(applied.Now)) {
			applied.PreviousContainer = nil
		}
		next, emitted := Advance(state, applied)
		intent = emitted
		return next
	}); err != nil {
		s.logError(opResolveTap, "session_update_failed", err, zap.String("session", sessionKey))
		return nil
	}
	if intent == nil {
		return nil
	}

	ack := &MutationAck{Intent: *intent}
	if err := s.dispatcher.Apply(ctx, *intent); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			ack.Delayed = true
		} else {
			ack.Err = err
		}
	}
	return ack
}

// buildEvent classifies the tapped tag and resolves the refs the machine
// consumes. Any lookup failure degrades the event to TagKindUnknown so the
// machine stays total and the redirect path stays open. The second return
// names the pending belonging the PreviousContainer was resolved for, so the
// caller can discard it if the state moved before the locked transition.
func (s *Service) buildEvent(ctx context.Context, sessionKey string, id TagID, info *PageInfo) (TapEvent, TagID) {
	event := TapEvent{
		Tag:    id,
		Kind:   TagKindUnknown,
		Now:    s.clock().UTC(),
		Window: s.window,
	}

	if info == nil {
		resolved, err := s.content.ResolveTag(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrTagNotFound) {
				s.logger.Debug("tag classification unavailable",
					zap.String("tag_id", id.String()), zap.Error(err))
			}
			return event, ""
		}
		info = &resolved
	}

	event.Kind = info.Kind
	if info.Kind != TagKindContainer {
		return event, ""
	}
	event.Container = info.Ref

	// A container tap may commit a pending move; the belonging's current
	// parent becomes the undo target. Best effort: an unreadable parent just
	// means the later revert clears the relation.
	var parentFor TagID
	if state, ok := s.sessions.Get(sessionKey); ok &&
		state.Phase == PhasePendingContainer && !state.Expired(event.Now) {
		belonging, err := s.content.ResolveTag(ctx, state.Belonging)
		if err != nil {
			s.logger.Debug("previous container lookup failed",
				zap.String("tag_id", state.Belonging.String()), zap.Error(err))
		} else {
			event.PreviousContainer = belonging.Parent
			parentFor = state.Belonging
		}
	}
	return event, parentFor
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tag service error", attrs...)
}
