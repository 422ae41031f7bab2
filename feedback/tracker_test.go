package feedback

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/scansync/capture"
)

func TestTrackerAppendsInFirstAddedOrder(t *testing.T) {
	tr := NewTracker()

	tr.Update(capture.NewConditionSet(capture.ConditionObjectTooClose), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgMoveCloser})

	tr.Update(capture.NewConditionSet(
		capture.ConditionObjectTooClose,
		capture.ConditionEnvironmentTooDark,
	), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgMoveCloser, MsgMoreLight})

	// dropping a condition removes only its message
	tr.Update(capture.NewConditionSet(capture.ConditionEnvironmentTooDark), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgMoreLight})

	// re-adding appends at the end
	tr.Update(capture.NewConditionSet(
		capture.ConditionEnvironmentTooDark,
		capture.ConditionObjectTooClose,
	), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgMoreLight, MsgMoveCloser})
}

func TestTrackerSteadyStateIsStable(t *testing.T) {
	tr := NewTracker()
	set := capture.NewConditionSet(capture.ConditionObjectTooFar, capture.ConditionMovingTooFast)

	tr.Update(set, capture.ModeObject)
	want := tr.Messages()
	for i := 0; i < 5; i++ {
		tr.Update(set, capture.ModeObject)
	}
	test.That(t, tr.Messages(), test.ShouldResemble, want)
}

func TestTrackerModeSpecificMessages(t *testing.T) {
	tr := NewTracker()
	tr.Update(capture.NewConditionSet(capture.ConditionMovingTooFast), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgSlowDown})

	tr = NewTracker()
	tr.Update(capture.NewConditionSet(capture.ConditionMovingTooFast), capture.ModeArea)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgSweepSlowerArea})

	// flippability is meaningless in area mode
	tr = NewTracker()
	tr.Update(capture.NewConditionSet(capture.ConditionObjectNotFlippable), capture.ModeArea)
	test.That(t, tr.Messages(), test.ShouldHaveLength, 0)
}

func TestTrackerIgnoresUnknownConditions(t *testing.T) {
	tr := NewTracker()
	tr.Update(capture.NewConditionSet(capture.Condition("lens_cap_on")), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldHaveLength, 0)
	test.That(t, tr.Active(capture.Condition("lens_cap_on")), test.ShouldBeTrue)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Update(capture.NewConditionSet(capture.ConditionObjectTooClose), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldHaveLength, 1)
	test.That(t, tr.Active(capture.ConditionObjectTooClose), test.ShouldBeTrue)

	tr.Reset()
	test.That(t, tr.Messages(), test.ShouldHaveLength, 0)
	test.That(t, tr.Active(capture.ConditionObjectTooClose), test.ShouldBeFalse)

	// a reset tracker diffs against an empty previous set
	tr.Update(capture.NewConditionSet(capture.ConditionObjectTooClose), capture.ModeObject)
	test.That(t, tr.Messages(), test.ShouldResemble, []Message{MsgMoveCloser})
}
