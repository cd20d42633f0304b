// Package reducer derives belief state from an ordered event sequence.
//
// The reducer is a pure, synchronous, single-pass function: identical ordered
// input yields a byte-identical state hash on every host. Belief entries live
// in four namespaces keyed by "subject:predicate":
//
//   - canonical: attested truth
//   - local:     unresolved observations
//   - contested: conflicting high-confidence evidence awaiting an attestation
//   - archived:  superseded entries, kept permanently
//
// Unknown event types never mutate belief state but still advance the event
// accounting, so logs written by newer implementations replay cleanly.
package reducer

import (
	"fmt"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/event"
)

// Default confidences and the contest threshold.
const (
	DefaultConflictThreshold     = 0.5
	DefaultObservationConfidence = 0.5
	DefaultAssertionConfidence   = 0.35
)

// StatusAwaitingResolution marks a contested entry waiting for an ATTESTATION.
const StatusAwaitingResolution = "AWAITING_RESOLUTION"

// Config tunes reducer behavior. It is part of the state hash, so two devices
// must agree on it to converge. A nil ConflictThreshold means the default; an
// explicit 0 contests every disagreement.
type Config struct {
	ConflictThreshold *float64 `json:"conflict_threshold"`
}

func (c Config) conflictThreshold() float64 {
	if c.ConflictThreshold != nil {
		return *c.ConflictThreshold
	}
	return DefaultConflictThreshold
}

// Metadata is the reducer's event accounting. StateHash is excluded from the
// hash computation itself.
type Metadata struct {
	LastEventID   string `json:"last_event_id"`
	EventCount    int    `json:"event_count"`
	StateHash     string `json:"state_hash"`
	CurrentEpoch  int    `json:"current_epoch"`
	ReducerConfig Config `json:"reducer_config"`
}

// State is the derived belief state. Namespace containers hold only
// map[string]any / []any values so canonical serialization preserves number
// kinds end to end. State is never persisted independently of the event log;
// it is always recomputed by replay.
type State struct {
	Canonical map[string]any `json:"canonical"`
	Local     map[string]any `json:"local"`
	Contested map[string]any `json:"contested"`
	Archived  map[string]any `json:"archived"`
	Metadata  Metadata       `json:"metadata"`

	// evidence accumulates every observation and assertion per key so a
	// later contest can regroup the full history.
	evidence map[string][]any
}

// New returns an empty state with the given config. A nil ConflictThreshold
// falls back to the default.
func New(cfg Config) *State {
	resolved := cfg.conflictThreshold()
	cfg.ConflictThreshold = &resolved
	return &State{
		Canonical: make(map[string]any),
		Local:     make(map[string]any),
		Contested: make(map[string]any),
		Archived:  make(map[string]any),
		Metadata: Metadata{
			CurrentEpoch:  1,
			ReducerConfig: cfg,
		},
		evidence: make(map[string][]any),
	}
}

// Reduce replays a complete ordered event sequence through a fresh state.
func Reduce(events []*event.Event, cfg Config) (*State, error) {
	s := New(cfg)
	for _, e := range events {
		if err := s.Apply(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Apply folds one event into the state and recomputes the state hash.
func (s *State) Apply(e *event.Event) error {
	switch e.Type {
	case event.TypeObservation:
		s.applyEvidence(e, DefaultObservationConfidence)
	case event.TypeAssertion:
		s.applyEvidence(e, DefaultAssertionConfidence)
	case event.TypeAttestation:
		s.applyAttestation(e)
	case event.TypeRetraction:
		s.applyRetraction(e)
	case event.TypeReducerEpoch:
		s.applyEpoch(e)
	default:
		// Forward-compatible: no namespace mutation, accounting still
		// advances below.
	}

	s.Metadata.LastEventID = e.EventID
	s.Metadata.EventCount++

	hash, err := s.computeStateHash()
	if err != nil {
		return fmt.Errorf("reducer: state hash after %s: %w", e.EventID, err)
	}
	s.Metadata.StateHash = hash
	return nil
}

// beliefKey extracts the "subject:predicate" key, or "" when the payload does
// not carry one.
func beliefKey(e *event.Event) string {
	subject, ok := e.Payload["subject"].(string)
	if !ok {
		return ""
	}
	predicate, ok := e.Payload["predicate"].(string)
	if !ok {
		return ""
	}
	return subject + ":" + predicate
}

func (s *State) applyEvidence(e *event.Event, defaultConfidence float64) {
	key := beliefKey(e)
	if key == "" {
		return
	}
	value := e.Payload["value"]
	confidence := defaultConfidence
	if c, ok := toFloat(e.Payload["confidence"]); ok {
		confidence = c
	}

	s.evidence[key] = append(s.evidence[key], map[string]any{
		"event_id":   e.EventID,
		"actor":      e.Actor,
		"namespace":  "local",
		"timestamp":  e.TimestampUTC,
		"value":      value,
		"confidence": confidence,
	})

	threshold := *s.Metadata.ReducerConfig.ConflictThreshold

	if can, ok := s.Canonical[key].(map[string]any); ok {
		if !canonicalEqual(can["value"], value) && confidence >= threshold {
			s.markContested(key, "conflicts_with_canonical")
			return
		}
	}
	if loc, ok := s.Local[key].(map[string]any); ok {
		existing, _ := toFloat(loc["confidence"])
		if !canonicalEqual(loc["value"], value) {
			if maxFloat(existing, confidence) >= threshold {
				s.markContested(key, "conflicting_local_evidence")
				return
			}
		} else if confidence <= existing {
			// Same value at equal or lower confidence: no downgrade.
			return
		}
	}

	s.Local[key] = map[string]any{
		"value":           value,
		"confidence":      confidence,
		"source_event_id": e.EventID,
		"actor":           e.Actor,
		"timestamp":       e.TimestampUTC,
	}
}

func (s *State) applyAttestation(e *event.Event) {
	key := beliefKey(e)
	if key == "" {
		return
	}

	if existing, ok := s.Canonical[key].(map[string]any); ok {
		archived := copyMap(existing)
		archived["superseded_by"] = e.EventID
		s.archive(key, archived)
	}

	attestedBy := e.Actor
	if e.ActorKeyID != "" {
		attestedBy = e.ActorKeyID
	}
	provenance := e.EventID
	if target, ok := e.Payload["target_event_id"].(string); ok && target != "" {
		provenance = target
	}
	s.Canonical[key] = map[string]any{
		"value":                e.Payload["value"],
		"attested_by":          attestedBy,
		"provenance":           provenance,
		"attestation_event_id": e.EventID,
	}

	// Attestation is authoritative: any unresolved observation or contest
	// for the key is discarded, not archived.
	delete(s.Local, key)
	delete(s.Contested, key)
}

func (s *State) applyRetraction(e *event.Event) {
	key := beliefKey(e)
	if key == "" {
		return
	}
	if existing, ok := s.Canonical[key].(map[string]any); ok {
		archived := copyMap(existing)
		archived["retracted"] = true
		archived["superseded_by"] = e.EventID
		s.archive(key, archived)
		delete(s.Canonical, key)
	}
	delete(s.Local, key)
	delete(s.Contested, key)
}

// applyEpoch bumps the reducer logic version marker. It carries no belief
// data.
func (s *State) applyEpoch(e *event.Event) {
	if n, ok := toInt(e.Payload["epoch"]); ok {
		s.Metadata.CurrentEpoch = n
		return
	}
	s.Metadata.CurrentEpoch++
}

// markContested regroups the key's full evidence history by canonical value
// and parks it awaiting an attestation. Local belief for the key is cleared.
func (s *State) markContested(key, reason string) {
	evidenceByValue := make(map[string]any)
	for _, ev := range s.evidence[key] {
		entry, ok := ev.(map[string]any)
		if !ok {
			continue
		}
		valueKey, err := canonical.Marshal(entry["value"])
		if err != nil {
			continue
		}
		group, _ := evidenceByValue[string(valueKey)].([]any)
		evidenceByValue[string(valueKey)] = append(group, entry)
	}

	var canonicalValue any
	if can, ok := s.Canonical[key].(map[string]any); ok {
		canonicalValue = can["value"]
	}

	s.Contested[key] = map[string]any{
		"status":               StatusAwaitingResolution,
		"reason":               reason,
		"canonical_value":      canonicalValue,
		"evidence_by_value":    evidenceByValue,
		"total_evidence_count": len(s.evidence[key]),
	}
	delete(s.Local, key)
}

func (s *State) archive(key string, entry map[string]any) {
	existing, _ := s.Archived[key].([]any)
	s.Archived[key] = append(existing, entry)
}

// computeStateHash hashes the belief namespaces plus the metadata subset that
// excludes the state hash itself.
func (s *State) computeStateHash() (string, error) {
	return canonical.Hash(map[string]any{
		"canonical": s.Canonical,
		"local":     s.Local,
		"contested": s.Contested,
		"archived":  s.Archived,
		"metadata_partial": map[string]any{
			"last_event_id": s.Metadata.LastEventID,
			"event_count":   s.Metadata.EventCount,
			"current_epoch": s.Metadata.CurrentEpoch,
			"reducer_config": map[string]any{
				"conflict_threshold": *s.Metadata.ReducerConfig.ConflictThreshold,
			},
		},
	})
}

// Evidence returns the accumulated evidence history for a key.
func (s *State) Evidence(key string) []any {
	return s.evidence[key]
}

func canonicalEqual(a, b any) bool {
	ab, err := canonical.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := canonical.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case interface{ Int64() (int64, error) }:
		n, err := t.Int64()
		return int(n), err == nil
	}
	return 0, false
}
