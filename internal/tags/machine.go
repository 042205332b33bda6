package tags

import "time"

// TagKind is the runtime classification of a tapped tag, resolved by the
// content-system collaborator. The machine never classifies tags itself.
type TagKind string

const (
	// TagKindBelonging marks an item tag representing a possession.
	TagKindBelonging TagKind = "belonging"
	// TagKindContainer marks an item tag representing a place that holds belongings.
	TagKindContainer TagKind = "container"
	// TagKindUnknown marks a tag that could not be classified. Lookup failures
	// degrade to this kind rather than propagating.
	TagKindUnknown TagKind = "unknown"
)

// InteractionPhase names the multi-tap engine's session-scoped phases.
type InteractionPhase string

const (
	// PhaseIdle means no interaction is pending.
	PhaseIdle InteractionPhase = "idle"
	// PhasePendingContainer means a belonging was tapped and a container tap
	// is awaited within the window.
	PhasePendingContainer InteractionPhase = "pending_container"
	// PhaseAwaitingUndo means a move was committed and a repeat tap on the
	// same container within the window undoes it.
	PhaseAwaitingUndo InteractionPhase = "awaiting_undo"
)

// InteractionState is the ephemeral per-session state of the move/undo
// engine. The zero value is idle. Every non-idle state carries an absolute
// expiry checked lazily on the next event, never by a timer.
type InteractionState struct {
	Phase             InteractionPhase `json:"phase"`
	Belonging         TagID            `json:"belonging,omitempty"`
	PreviousContainer *PageRef         `json:"previous_container,omitempty"`
	NewContainer      PageRef          `json:"new_container,omitempty"`
	StartedAt         time.Time        `json:"started_at,omitempty"`
	ExpiresAt         time.Time        `json:"expires_at,omitempty"`
}

// Idle reports whether the state carries no pending interaction.
func (s InteractionState) Idle() bool {
	return s.Phase == "" || s.Phase == PhaseIdle
}

// Expired reports whether a non-idle state has passed its expiry at now.
func (s InteractionState) Expired(now time.Time) bool {
	return !s.Idle() && !s.ExpiresAt.After(now)
}

// MutationKind names the two relation mutations the engine can request.
type MutationKind string

const (
	// MutationSetContainer re-parents a belonging under a container.
	MutationSetContainer MutationKind = "set_container"
	// MutationRevertContainer restores a belonging's prior parent.
	MutationRevertContainer MutationKind = "revert_container"
)

// MutationIntent describes one required side effect against the content
// system. A nil Container on a revert clears the relation (the belonging had
// no parent before the move). Intents carry no transport detail.
type MutationIntent struct {
	Kind      MutationKind
	Belonging TagID
	Container *PageRef
}

// TapEvent is one validated tap as seen by the state machine. The caller has
// already classified the tag and resolved its page reference; Container is
// set when Kind is TagKindContainer, and PreviousContainer carries the
// belonging's current parent when the caller knows it. Window is the
// configured interaction window.
type TapEvent struct {
	Tag               TagID
	Kind              TagKind
	Container         PageRef
	PreviousContainer *PageRef
	Now               time.Time
	Window            time.Duration
}

// Advance is the multi-tap move/undo transition function. It is pure and
// total: every (state, event) pair maps to a defined next state and at most
// one mutation intent, so the redirect path can never be blocked by the
// engine itself. A state found past its expiry collapses to idle before the
// event is evaluated, and an unknown-kind event collapses any open sequence
// to idle with no intent.
func Advance(state InteractionState, event TapEvent) (InteractionState, *MutationIntent) {
	if state.Expired(event.Now) {
		state = InteractionState{}
	}

	switch {
	case state.Idle():
		return advanceFromIdle(event)

	case state.Phase == PhasePendingContainer:
		switch event.Kind {
		case TagKindBelonging:
			// A second belonging restarts the sequence on the new belonging.
			return advanceFromIdle(event)
		case TagKindContainer:
			intent := &MutationIntent{
				Kind:      MutationSetContainer,
				Belonging: state.Belonging,
				Container: pageRefPointer(event.Container),
			}
			next := InteractionState{
				Phase:             PhaseAwaitingUndo,
				Belonging:         state.Belonging,
				PreviousContainer: event.PreviousContainer,
				NewContainer:      event.Container,
				StartedAt:         event.Now,
				ExpiresAt:         event.Now.Add(event.Window),
			}
			return next, intent
		default:
			// An unclassifiable tap drops the sequence rather than holding a
			// lock on it; the next belonging tap starts clean.
			return InteractionState{Phase: PhaseIdle}, nil
		}

	case state.Phase == PhaseAwaitingUndo:
		switch event.Kind {
		case TagKindBelonging:
			return advanceFromIdle(event)
		case TagKindContainer:
			if event.Container == state.NewContainer {
				intent := &MutationIntent{
					Kind:      MutationRevertContainer,
					Belonging: state.Belonging,
					Container: state.PreviousContainer,
				}
				return InteractionState{Phase: PhaseIdle}, intent
			}
			return state, nil
		default:
			return InteractionState{Phase: PhaseIdle}, nil
		}
	}

	return InteractionState{Phase: PhaseIdle}, nil
}

func advanceFromIdle(event TapEvent) (InteractionState, *MutationIntent) {
	if event.Kind != TagKindBelonging {
		return InteractionState{Phase: PhaseIdle}, nil
	}
	return InteractionState{
		Phase:     PhasePendingContainer,
		Belonging: event.Tag,
		StartedAt: event.Now,
		ExpiresAt: event.Now.Add(event.Window),
	}, nil
}
