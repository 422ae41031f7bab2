// Package feedback aggregates the capture engine's transient condition
// codes into a stable, ordered list of operator-facing messages,
// suppressing the frame-to-frame flicker of the raw set.
package feedback

import (
	"sort"

	"go.viam.com/scansync/capture"
)

// A Message is a display string derived from an active condition.
type Message string

// Messages shown to the operator or relayed to the robot station.
const (
	MsgMoveCloser      Message = "Move closer to the object"
	MsgMoveBack        Message = "Move farther from the object"
	MsgSlowDown        Message = "Slow down"
	MsgMoreLight       Message = "More light is needed"
	MsgCenterObject    Message = "Keep the object in the frame"
	MsgCannotFlip      Message = "Object cannot be flipped"
	MsgEnoughCoverage  Message = "This angle has enough coverage"
	MsgSweepSlowerArea Message = "Sweep the area slowly"
)

// messageFor resolves a condition to its display message for the given
// capture mode. Conditions without a message resolve to false and are
// ignored by the tracker.
func messageFor(c capture.Condition, mode capture.Mode) (Message, bool) {
	switch c {
	case capture.ConditionObjectTooClose:
		return MsgMoveCloser, true
	case capture.ConditionObjectTooFar:
		return MsgMoveBack, true
	case capture.ConditionMovingTooFast:
		if mode == capture.ModeArea {
			return MsgSweepSlowerArea, true
		}
		return MsgSlowDown, true
	case capture.ConditionEnvironmentTooDark:
		return MsgMoreLight, true
	case capture.ConditionOutOfFieldOfView:
		return MsgCenterObject, true
	case capture.ConditionObjectNotFlippable:
		if mode == capture.ModeArea {
			return "", false
		}
		return MsgCannotFlip, true
	case capture.ConditionOverCapturing:
		return MsgEnoughCoverage, true
	default:
		return "", false
	}
}

// A Tracker turns a stream of condition sets into an ordered message
// list. It is a plain data structure: the orchestrator mutates it only
// from its own serialized context.
type Tracker struct {
	prev     capture.ConditionSet
	messages []Message
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{prev: capture.ConditionSet{}}
}

// Update diffs newSet against the previously stored set: messages for
// dropped conditions are removed, messages for new conditions appended
// (once, in first-added order). Conditions added and removed between
// two updates cancel out.
func (t *Tracker) Update(newSet capture.ConditionSet, mode capture.Mode) {
	for _, c := range sortedConditions(t.prev) {
		if newSet.Has(c) {
			continue
		}
		if msg, ok := messageFor(c, mode); ok {
			t.remove(msg)
		}
	}
	for _, c := range sortedConditions(newSet) {
		if t.prev.Has(c) {
			continue
		}
		if msg, ok := messageFor(c, mode); ok {
			t.append(msg)
		}
	}

	stored := make(capture.ConditionSet, len(newSet))
	for c := range newSet {
		stored[c] = true
	}
	t.prev = stored
}

// Messages returns a copy of the current ordered message list.
func (t *Tracker) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Active reports whether the condition was present in the most recent
// update.
func (t *Tracker) Active(c capture.Condition) bool {
	return t.prev.Has(c)
}

// Reset clears the stored set and the message list.
func (t *Tracker) Reset() {
	t.prev = capture.ConditionSet{}
	t.messages = nil
}

func (t *Tracker) remove(msg Message) {
	for i, m := range t.messages {
		if m == msg {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

func (t *Tracker) append(msg Message) {
	for _, m := range t.messages {
		if m == msg {
			return
		}
	}
	t.messages = append(t.messages, msg)
}

// sortedConditions gives a deterministic iteration order so that
// messages added within a single frame keep a stable relative order.
func sortedConditions(set capture.ConditionSet) []capture.Condition {
	conds := make([]capture.Condition, 0, len(set))
	for c := range set {
		conds = append(conds, c)
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i] < conds[j] })
	return conds
}
