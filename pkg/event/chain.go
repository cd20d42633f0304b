package event

import "fmt"

// ChainStatus is the verification result for one actor's causal chain. One
// actor's broken chain never invalidates another's.
type ChainStatus struct {
	Actor  string `json:"actor"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Fork records two same-actor events claiming the same predecessor. A fork is
// a divergence signal (evidence of offline concurrent writes), not
// necessarily an error.
type Fork struct {
	Actor    string `json:"actor"`
	PrevHash string `json:"prev_hash"`
	EventIDA string `json:"event_id_a"`
	EventIDB string `json:"event_id_b"`
}

// groupByActor splits events into per-actor subsequences preserving log
// order, with actor names in first-appearance order.
func groupByActor(events []*Event) (map[string][]*Event, []string) {
	groups := make(map[string][]*Event)
	var order []string
	for _, e := range events {
		if _, seen := groups[e.Actor]; !seen {
			order = append(order, e.Actor)
		}
		groups[e.Actor] = append(groups[e.Actor], e)
	}
	return groups, order
}

// VerifyChains checks every actor's causal chain in a log: the actor's first
// event must have a nil prev_event_hash, and each later event must name the
// actor's immediately preceding event id. An event naming any other
// predecessor, including one belonging to a different actor, breaks the
// chain.
func VerifyChains(events []*Event) map[string]ChainStatus {
	groups, _ := groupByActor(events)
	out := make(map[string]ChainStatus, len(groups))
	for actor, chain := range groups {
		out[actor] = verifyChain(actor, chain)
	}
	return out
}

func verifyChain(actor string, chain []*Event) ChainStatus {
	for i, e := range chain {
		if i == 0 {
			if e.PrevEventHash != nil {
				return ChainStatus{
					Actor:  actor,
					Reason: fmt.Sprintf("first event %s has non-null prev_event_hash %q", e.EventID, *e.PrevEventHash),
				}
			}
			continue
		}
		want := chain[i-1].EventID
		if e.PrevEventHash == nil {
			return ChainStatus{
				Actor:  actor,
				Reason: fmt.Sprintf("event %s at index %d has null prev_event_hash, want %s", e.EventID, i, want),
			}
		}
		if *e.PrevEventHash != want {
			return ChainStatus{
				Actor:  actor,
				Reason: fmt.Sprintf("event %s at index %d links to %s, want %s", e.EventID, i, *e.PrevEventHash, want),
			}
		}
	}
	return ChainStatus{Actor: actor, Valid: true}
}

// DetectForks reports every pair of same-actor events that share a
// prev_event_hash, in log order.
func DetectForks(events []*Event) []Fork {
	groups, order := groupByActor(events)
	var forks []Fork
	for _, actor := range order {
		byPrev := make(map[string][]*Event)
		var prevOrder []string
		for _, e := range groups[actor] {
			if e.PrevEventHash == nil {
				continue
			}
			p := *e.PrevEventHash
			if _, seen := byPrev[p]; !seen {
				prevOrder = append(prevOrder, p)
			}
			byPrev[p] = append(byPrev[p], e)
		}
		for _, p := range prevOrder {
			claimants := byPrev[p]
			for i := 0; i < len(claimants); i++ {
				for j := i + 1; j < len(claimants); j++ {
					forks = append(forks, Fork{
						Actor:    actor,
						PrevHash: p,
						EventIDA: claimants[i].EventID,
						EventIDB: claimants[j].EventID,
					})
				}
			}
		}
	}
	return forks
}
