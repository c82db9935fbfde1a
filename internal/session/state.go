package session

// transitions lists the state machine's legal edges (spec §4.2). CLOSED is
// reachable from every state (fatal error, timeout, or explicit shutdown),
// so it is checked separately rather than listed under every entry.
var transitions = map[State][]State{
	StateAccepted:          {StateAwaitingHandshake},
	StateAwaitingHandshake: {StateHandshaking},
	StateHandshaking:       {StateProbing},
	StateProbing:           {StateReady},
	StateReady:             {StateClosing},
	StateClosing:           {StateClosed},
}

func canTransition(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// setState moves the session to to if the edge is legal, reporting the
// gauge change to metrics. It is a no-op (returns false) on an illegal
// transition; handleHandshake uses the false result to detect a repeat
// handshake, and Close ignores it.
func (s *Session) setState(to State) bool {
	s.stateMu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.stateMu.Unlock()
		return false
	}
	s.state = to
	s.stateMu.Unlock()

	if s.metrics != nil {
		s.metrics.SetSessionState(s.id, toMetricsState(to))
	}
	return true
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}
