package dispatcher

import (
	"sort"

	"github.com/nerrad567/meshbridge-core/internal/registry"
)

// ErrNoBridgeAvailable is returned when no READY session carries the
// requested device (spec §4.4 Target resolution / §7 DispatchError
// "NO_BRIDGE_AVAILABLE").
var ErrNoBridgeAvailable = newDispatchError("NO_BRIDGE_AVAILABLE")

// resolvePrimary picks the primary session for deviceID: most recently
// active, then lowest address lexicographically (spec §3 Device,
// §4.4 Target resolution). Sessions are assumed already filtered to
// READY by the caller via SessionProvider (session.Server.Sessions only
// returns sessions it is actively tracking; READY-gating happens at the
// session level when SendCommand is attempted).
func (d *Dispatcher) resolvePrimary(deviceID string) (Session, error) {
	candidates := d.sessionsKnowing(deviceID)
	if len(candidates) == 0 {
		return nil, ErrNoBridgeAvailable
	}
	return d.pickPrimary(candidates), nil
}

func (d *Dispatcher) sessionsKnowing(deviceID string) []Session {
	var out []Session
	for _, s := range d.sessions.Sessions() {
		if s.KnowsDevice(deviceID) {
			out = append(out, s)
		}
	}
	return out
}

// pickPrimary sorts candidates by most-recent-activity, then lowest ID as
// a tie-break. Two sessions tied on activity down to the tie-break is a
// genuine ambiguity (both bridges saw the device equally recently) and is
// counted against PrimaryViols, the dispatcher's only metrics write.
func (d *Dispatcher) pickPrimary(candidates []Session) Session {
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].LastActivity(), candidates[j].LastActivity()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return candidates[i].ID() < candidates[j].ID()
	})
	if len(candidates) > 1 && d.metrics != nil && candidates[0].LastActivity().Equal(candidates[1].LastActivity()) {
		d.metrics.PrimaryViols.Add(1)
	}
	return candidates[0]
}

// resolveGroupPrimary resolves a group command to the primary session of
// any member some session knows, preferring sessions that know the most
// members of the group (spec §4.4 Group target). Members' online flags in
// the registry are not consulted.
func (d *Dispatcher) resolveGroupPrimary(group *registry.Group) (Session, error) {
	memberCounts := make(map[string]int) // session ID -> members known
	sessionByID := make(map[string]Session)

	for _, memberID := range group.MemberIDs {
		for _, s := range d.sessionsKnowing(memberID) {
			memberCounts[s.ID()]++
			sessionByID[s.ID()] = s
		}
	}
	if len(sessionByID) == 0 {
		return nil, ErrNoBridgeAvailable
	}

	var best []Session
	bestCount := -1
	for id, count := range memberCounts {
		s := sessionByID[id]
		switch {
		case count > bestCount:
			bestCount = count
			best = []Session{s}
		case count == bestCount:
			best = append(best, s)
		}
	}
	return d.pickPrimary(best), nil
}
