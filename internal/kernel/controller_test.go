package kernel

import (
	"errors"
	"testing"
)

func TestController_SequenceRejectsRegressionFromTerminated(t *testing.T) {
	c := NewController()
	steps := []struct {
		to      State
		wantErr bool
	}{
		{Starting, false},
		{Ready, false},
		{Interrupted, false},
		{Ready, false},
		{Terminated, false},
		{Ready, true},
	}
	for i, step := range steps {
		err := c.Transition(step.to)
		if step.wantErr {
			if !errors.Is(err, ErrLifecycleViolation) {
				t.Fatalf("step %d to %s: expected ErrLifecycleViolation, got %v", i, step.to, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d to %s: unexpected error %v", i, step.to, err)
		}
	}
	if c.State() != Terminated {
		t.Fatalf("expected terminated, got %s", c.State())
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Idle, Starting, true},
		{Idle, Ready, true},
		{Idle, Interrupted, false},
		{Starting, Ready, true},
		{Ready, Running, true},
		{Running, Ready, true},
		{Running, Interrupted, true},
		{Interrupted, Running, false},
		{Interrupted, Ready, true},
		{Ready, Starting, false},
		{Ready, Ready, true},
		{Ready, Terminated, true},
		{Terminated, Terminated, true},
		{Terminated, Idle, false},
		{Terminated, Starting, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestController_ListenersSeeRealChangesOnly(t *testing.T) {
	c := NewController()
	var seen []string
	c.OnChange(func(from, to State) {
		seen = append(seen, from.String()+">"+to.String())
	})
	_ = c.Transition(Ready)
	_ = c.Transition(Ready)
	_ = c.Transition(Starting)
	_ = c.Transition(Running)
	want := []string{"idle>ready", "ready>running"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected notifications: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("unexpected notifications: %v", seen)
		}
	}
}

func TestState_AcceptsInteraction(t *testing.T) {
	if Idle.AcceptsInteraction() || Interrupted.AcceptsInteraction() || Terminated.AcceptsInteraction() {
		t.Fatal("only ready and running accept interaction")
	}
	if !Ready.AcceptsInteraction() || !Running.AcceptsInteraction() {
		t.Fatal("ready and running should accept interaction")
	}
}
