package job

import "testing"

func strPtr(s string) *string { return &s }
func statePtr(s State) *State { return &s }

func TestTallyStates(t *testing.T) {
	rows := []CountRow{
		{Name: strPtr("email"), State: statePtr(StateCreated), Size: 3},
		{Name: strPtr("email"), State: statePtr(StateActive), Size: 1},
		{Name: strPtr("email"), Size: 4},
		{Name: strPtr("export"), State: statePtr(StateFailed), Size: 2},
		{Name: strPtr("export"), Size: 2},
		{State: statePtr(StateCreated), Size: 3},
		{State: statePtr(StateActive), Size: 1},
		{State: statePtr(StateFailed), Size: 2},
		{Size: 6},
	}

	got := TallyStates(rows)

	if got.All != 6 {
		t.Errorf("All = %d, want 6", got.All)
	}
	if got.States[StateCreated] != 3 || got.States[StateFailed] != 2 {
		t.Errorf("unexpected totals: %v", got.States)
	}
	if n, ok := got.States[StateExpired]; !ok || n != 0 {
		t.Errorf("expired total should be present and zero, got %d (present=%v)", n, ok)
	}
	email := got.Queues["email"]
	if email.All != 4 || email.States[StateActive] != 1 || email.States[StateRetry] != 0 {
		t.Errorf("unexpected email counts: %+v", email)
	}
	if got.Queues["export"].States[StateFailed] != 2 {
		t.Errorf("unexpected export counts: %+v", got.Queues["export"])
	}
}

func TestTallyStatesEmpty(t *testing.T) {
	got := TallyStates(nil)
	if got.All != 0 || len(got.Queues) != 0 || len(got.States) != len(States()) {
		t.Fatalf("unexpected empty tally: %+v", got)
	}
}

func TestStateMarker(t *testing.T) {
	m := DefaultStateMarker()
	name := m.Name("email", StateComplete)
	if name != "email__state__complete" {
		t.Fatalf("Name = %q", name)
	}
	if !m.IsMarker(name) || m.IsMarker("email") {
		t.Error("IsMarker mismatch")
	}
	p := m.LikePattern()
	if p == nil || *p != `%\_\_state\_\_%` {
		t.Fatalf("LikePattern = %v", p)
	}

	off := StateMarker{}
	if off.LikePattern() != nil || off.IsMarker(name) {
		t.Error("disabled marker should match nothing")
	}
}
