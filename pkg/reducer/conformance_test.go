package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/event"
)

// The door attestation scenario is the interoperability fixture shared across
// ports: a bot observation followed by an admin attestation of the same
// value. Everything about the resulting state, including its hash envelope,
// is pinned here so an implementation change that would break convergence
// with other devices fails loudly.
func doorScenario() []*event.Event {
	obsPrev := (*string)(nil)
	return []*event.Event{
		{
			Type:          event.TypeObservation,
			Actor:         "bot",
			PrevEventHash: obsPrev,
			TimestampUTC:  "2025-01-01T00:00:00Z",
			Payload: map[string]any{
				"subject": "door", "predicate": "state", "value": "open",
			},
			EventID: "evt_aaaaaaaaaaaaaaaaaaaaaaaa",
		},
		{
			Type:          event.TypeAttestation,
			Actor:         "admin",
			ActorKeyID:    "admin_key",
			PrevEventHash: nil,
			TimestampUTC:  "2025-01-01T00:00:01Z",
			Payload: map[string]any{
				"subject": "door", "predicate": "state", "value": "open",
			},
			EventID: "evt_bbbbbbbbbbbbbbbbbbbbbbbb",
		},
	}
}

func TestDoorAttestationScenarioState(t *testing.T) {
	s, err := Reduce(doorScenario(), Config{})
	require.NoError(t, err)

	can := s.Canonical["door:state"].(map[string]any)
	assert.Equal(t, "open", can["value"])
	assert.Equal(t, "admin_key", can["attested_by"])
	assert.Equal(t, "evt_bbbbbbbbbbbbbbbbbbbbbbbb", can["provenance"])
	assert.Equal(t, "evt_bbbbbbbbbbbbbbbbbbbbbbbb", can["attestation_event_id"])

	assert.Empty(t, s.Local)
	assert.Empty(t, s.Contested)
	assert.Empty(t, s.Archived)
	assert.Equal(t, 2, s.Metadata.EventCount)
	assert.Equal(t, "evt_bbbbbbbbbbbbbbbbbbbbbbbb", s.Metadata.LastEventID)
}

func TestDoorAttestationScenarioHashEnvelope(t *testing.T) {
	s, err := Reduce(doorScenario(), Config{})
	require.NoError(t, err)

	// Rebuild the hash envelope by hand: the four namespaces plus the
	// metadata subset, with metadata.state_hash itself excluded.
	want, err := canonical.Hash(map[string]any{
		"canonical": map[string]any{
			"door:state": map[string]any{
				"value":                "open",
				"attested_by":          "admin_key",
				"provenance":           "evt_bbbbbbbbbbbbbbbbbbbbbbbb",
				"attestation_event_id": "evt_bbbbbbbbbbbbbbbbbbbbbbbb",
			},
		},
		"local":     map[string]any{},
		"contested": map[string]any{},
		"archived":  map[string]any{},
		"metadata_partial": map[string]any{
			"last_event_id": "evt_bbbbbbbbbbbbbbbbbbbbbbbb",
			"event_count":   2,
			"current_epoch": 1,
			"reducer_config": map[string]any{
				"conflict_threshold": 0.5,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, want, s.Metadata.StateHash)
}

func TestDoorAttestationScenarioIsReproducible(t *testing.T) {
	first, err := Reduce(doorScenario(), Config{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Reduce(doorScenario(), Config{})
		require.NoError(t, err)
		require.Equal(t, first.Metadata.StateHash, again.Metadata.StateHash)
	}
}
