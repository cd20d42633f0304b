// Package merge implements offline-first convergence between vaults: union
// merge of event logs, full-replay sync, delta export/import, and fencing
// tokens for stale-writer detection.
//
// Merging never resolves conflicts; it only unions evidence. Conflicting
// writes surface as forks and as contested reducer state, resolved later by
// attestation. Merge is commutative and idempotent: merge(A,B) == merge(B,A),
// and re-merging a merged result changes nothing.
package merge

import (
	"sort"

	"github.com/beliefbase/beliefbase/pkg/event"
)

// Result is the outcome of a union merge.
type Result struct {
	Events     []*event.Event `json:"-"`
	FromA      int            `json:"from_a"`
	FromB      int            `json:"from_b"`
	Duplicates int            `json:"duplicates"`
	Forks      []event.Fork   `json:"forks"`
}

// identity keys an event for dedupe: the event id when present, otherwise the
// canonical hash of the full event. The fallback is implementation-defined,
// not a canonical identity.
func identity(e *event.Event) (string, error) {
	if e.EventID != "" {
		return e.EventID, nil
	}
	h, err := event.CanonicalHash(e)
	if err != nil {
		return "", err
	}
	return "raw:" + h, nil
}

// EventLogs unions two event logs by event id, orders the union by
// (timestamp_utc, event_id), and runs fork detection over the result.
func EventLogs(a, b []*event.Event) (*Result, error) {
	seen := make(map[string]struct{}, len(a)+len(b))
	res := &Result{}

	union := make([]*event.Event, 0, len(a)+len(b))
	for _, e := range a {
		id, err := identity(e)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		union = append(union, e)
		res.FromA++
	}
	for _, e := range b {
		id, err := identity(e)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		union = append(union, e)
		res.FromB++
	}

	sortEvents(union)
	res.Events = union
	res.Forks = event.DetectForks(union)
	return res, nil
}

// sortEvents stable-sorts by (timestamp_utc, event_id) ascending. A missing
// timestamp sorts as the empty string.
func sortEvents(events []*event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TimestampUTC != events[j].TimestampUTC {
			return events[i].TimestampUTC < events[j].TimestampUTC
		}
		return events[i].EventID < events[j].EventID
	})
}
