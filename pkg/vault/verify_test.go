package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
)

func TestVerifyCleanVault(t *testing.T) {
	v, kp := openTestVault(t, "alice")
	for _, value := range []string{"open", "closed", "open"} {
		_, err := v.SignAndAppend(event.TypeObservation, map[string]any{
			"subject": "door", "predicate": "state", "value": value,
		}, kp.PrivateSeedB64, kp.KeyID)
		require.NoError(t, err)
	}
	_, err := v.GenerateManifest(kp.PrivateSeedB64, "2025-03-01T12:00:00Z")
	require.NoError(t, err)

	report := v.Verify(kp.PublicKeyB64)
	assert.True(t, report.OK())
	assert.Empty(t, report.Signatures)
	assert.Empty(t, report.Forks)
	assert.Empty(t, report.Manifest)
	require.Contains(t, report.Chains, "alice")
	assert.True(t, report.Chains["alice"].Valid)
}

func TestVerifyNamesTamperedEvent(t *testing.T) {
	v, kp := openTestVault(t, "alice")
	_, err := v.SignAndAppend(event.TypeObservation, map[string]any{
		"subject": "door", "predicate": "state", "value": "open",
	}, kp.PrivateSeedB64, kp.KeyID)
	require.NoError(t, err)
	tampered, err := v.SignAndAppend(event.TypeObservation, map[string]any{
		"subject": "door", "predicate": "state", "value": "closed",
	}, kp.PrivateSeedB64, kp.KeyID)
	require.NoError(t, err)

	tampered.Payload["value"] = "welded shut"

	report := v.Verify("")
	assert.False(t, report.OK())
	require.Len(t, report.Signatures, 1)
	assert.Equal(t, tampered.EventID, report.Signatures[0].EventID)
	assert.Equal(t, "signature invalid", report.Signatures[0].Reason)
}

func TestVerifyReportsUnknownSignerKey(t *testing.T) {
	v, _ := openTestVault(t, "alice")
	stranger, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	foreign, err := event.Sign(event.Event{
		Type:         event.TypeObservation,
		Actor:        "alice",
		TimestampUTC: event.NowUTC(),
		Payload:      map[string]any{"subject": "door", "predicate": "state", "value": "open"},
	}, stranger.PrivateSeedB64, stranger.KeyID)
	require.NoError(t, err)
	require.NoError(t, v.Append(foreign))

	report := v.Verify("")
	assert.False(t, report.OK())
	require.Len(t, report.Signatures, 1)
	assert.Contains(t, report.Signatures[0].Reason, "not in registry")
}

func TestVerifyRevokedKeyHistoryStaysValid(t *testing.T) {
	v, kp := openTestVault(t, "alice")
	_, err := v.SignAndAppend(event.TypeObservation, map[string]any{
		"subject": "door", "predicate": "state", "value": "open",
	}, kp.PrivateSeedB64, kp.KeyID)
	require.NoError(t, err)

	// Revocation stops new signing but not verification of past events.
	v.Registry.Revoke(kp.KeyID)
	report := v.Verify("")
	assert.True(t, report.OK())
	assert.Empty(t, report.Signatures)
}

func TestVerifyTreatsForksAsEvidenceNotFailure(t *testing.T) {
	v, kp := openTestVault(t, "alice")
	head, err := v.SignAndAppend(event.TypeObservation, map[string]any{
		"subject": "door", "predicate": "state", "value": "open",
	}, kp.PrivateSeedB64, kp.KeyID)
	require.NoError(t, err)

	// Two successors of the same head, as after merging diverged devices.
	for _, value := range []string{"closed", "ajar"} {
		e, err := event.Sign(event.Event{
			Type:          event.TypeObservation,
			Actor:         "alice",
			PrevEventHash: &head.EventID,
			TimestampUTC:  event.NowUTC(),
			Payload:       map[string]any{"subject": "door", "predicate": "state", "value": value},
		}, kp.PrivateSeedB64, kp.KeyID)
		require.NoError(t, err)
		require.NoError(t, v.Append(e))
	}

	report := v.Verify("")
	require.Len(t, report.Forks, 1)
	assert.Equal(t, head.EventID, report.Forks[0].PrevHash)
	assert.Empty(t, report.Signatures, "forked events still carry valid signatures")

	// The linearized log is no longer a single chain, which the chain check
	// reports independently of the fork evidence.
	assert.False(t, report.Chains["alice"].Valid)
}

func TestVerifyIncludesManifestFindings(t *testing.T) {
	v, kp := openTestVault(t, "alice")

	// No manifest on disk yet: asking for manifest verification is a finding.
	report := v.Verify(kp.PublicKeyB64)
	assert.False(t, report.OK())
	require.NotEmpty(t, report.Manifest)
	assert.Equal(t, "manifest", report.Manifest[0].Check)

	// An empty public key skips the manifest checks entirely.
	report = v.Verify("")
	assert.Empty(t, report.Manifest)
	assert.True(t, report.OK())
}
