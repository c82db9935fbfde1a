package session

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	path := []State{
		StateAccepted,
		StateAwaitingHandshake,
		StateHandshaking,
		StateProbing,
		StateReady,
		StateClosing,
		StateClosed,
	}
	for i := 0; i < len(path)-1; i++ {
		if !canTransition(path[i], path[i+1]) {
			t.Fatalf("expected %v -> %v to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransitionRejectsSkippingStates(t *testing.T) {
	if canTransition(StateAccepted, StateReady) {
		t.Fatal("Accepted -> Ready should not be a direct legal edge")
	}
	if canTransition(StateAwaitingHandshake, StateProbing) {
		t.Fatal("AwaitingHandshake -> Probing should not be a direct legal edge")
	}
}

func TestCanTransitionToClosedFromAnyLiveState(t *testing.T) {
	for _, s := range []State{StateAccepted, StateAwaitingHandshake, StateHandshaking, StateProbing, StateReady, StateClosing} {
		if !canTransition(s, StateClosed) {
			t.Fatalf("%v -> Closed should always be legal", s)
		}
	}
	if canTransition(StateClosed, StateClosed) {
		t.Fatal("Closed -> Closed should not be legal (already terminal)")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateAccepted:          "accepted",
		StateReady:             "ready",
		StateClosed:            "closed",
		State(99):              "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
