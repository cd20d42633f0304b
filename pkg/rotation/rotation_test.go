package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
)

func fixedClock() string { return "2025-03-01T12:00:00Z" }

func TestRevokePreconditions(t *testing.T) {
	ks := NewKeySet("k1", "k2")

	err := ks.Revoke("k1", "k1")
	assert.ErrorIs(t, err, ErrSelfRevocation)

	err = ks.Revoke("ghost", "k2")
	assert.ErrorIs(t, err, ErrSignerInactive)

	err = ks.Revoke("k1", "ghost")
	assert.ErrorIs(t, err, ErrTargetNotActive)

	require.NoError(t, ks.Revoke("k1", "k2"))
	assert.NotContains(t, ks.Active, "k2")
	assert.Contains(t, ks.Revoked, "k2")

	// Revoked keys cannot sign further rotations.
	err = ks.Revoke("k2", "k1")
	assert.ErrorIs(t, err, ErrSignerInactive)
}

func TestPromotePreconditions(t *testing.T) {
	ks := NewKeySet("k1", "k2")
	require.NoError(t, ks.Revoke("k1", "k2"))

	err := ks.Promote("k1", "k2")
	assert.ErrorIs(t, err, ErrKeyRevoked, "a revoked key can never return")

	err = ks.Promote("k1", "k1")
	assert.ErrorIs(t, err, ErrSelfPromotion)

	err = ks.Promote("ghost", "k3")
	assert.ErrorIs(t, err, ErrSignerInactive)

	require.NoError(t, ks.Promote("k1", "k3"))
	err = ks.Promote("k1", "k3")
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestLockout(t *testing.T) {
	ks := NewKeySet("k1", "k2")
	require.NoError(t, ks.Revoke("k1", "k2"))
	assert.False(t, ks.LockedOut())

	// The sole surviving key cannot revoke itself, so a single device never
	// locks itself out.
	err := ks.Revoke("k1", "k1")
	assert.ErrorIs(t, err, ErrSelfRevocation)
	assert.False(t, ks.LockedOut())

	// Lockout happens through merge: two devices revoked each other's keys
	// offline. Replaying the union empties the active set, terminally.
	delete(ks.Active, "k1")
	ks.Revoked["k1"] = struct{}{}
	assert.True(t, ks.LockedOut())
	assert.ErrorIs(t, ks.Promote("k1", "k9"), ErrSignerInactive)
}

func TestRotatorRevokeEmitsSignedEvent(t *testing.T) {
	signer, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	victim, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	reg := crypto.NewKeyRegistry()
	reg.Add(signer.PublicKeyB64, signer.KeyID)
	reg.Add(victim.PublicKeyB64, victim.KeyID)
	ks := NewKeySet(signer.KeyID, victim.KeyID)

	r := NewRotator("alice", ks, reg).WithClock(fixedClock)
	prev := "evt_aaaaaaaaaaaaaaaaaaaaaaaa"
	e, err := r.Revoke(signer.KeyID, signer.PrivateSeedB64, victim.KeyID, &prev)
	require.NoError(t, err)

	assert.Equal(t, event.TypeKeyRevocation, e.Type)
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, signer.KeyID, e.ActorKeyID)
	assert.Equal(t, victim.KeyID, e.Payload["target_key_id"])
	require.NotNil(t, e.PrevEventHash)
	assert.Equal(t, prev, *e.PrevEventHash)
	assert.True(t, event.VerifySignature(e, signer.PublicKeyB64))

	assert.False(t, reg.IsActive(victim.KeyID))
	// Past signatures by the revoked key stay verifiable as evidence.
	_, stillRegistered := reg.PublicKey(victim.KeyID)
	assert.True(t, stillRegistered)
}

func TestRotatorPromoteEmitsSignedEvent(t *testing.T) {
	signer, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	fresh, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	reg := crypto.NewKeyRegistry()
	reg.Add(signer.PublicKeyB64, signer.KeyID)
	ks := NewKeySet(signer.KeyID)

	r := NewRotator("alice", ks, reg).WithClock(fixedClock)
	e, err := r.Promote(signer.KeyID, signer.PrivateSeedB64, fresh.KeyID, fresh.PublicKeyB64, nil)
	require.NoError(t, err)

	assert.Equal(t, event.TypeKeyPromotion, e.Type)
	assert.Equal(t, fresh.KeyID, e.Payload["new_key_id"])
	assert.Equal(t, fresh.PublicKeyB64, e.Payload["new_public_key_b64"])
	assert.Nil(t, e.PrevEventHash)
	assert.True(t, event.VerifySignature(e, signer.PublicKeyB64))
	assert.True(t, reg.IsActive(fresh.KeyID))
}

func TestRotatorRejectedPreconditionEmitsNothing(t *testing.T) {
	signer, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	reg := crypto.NewKeyRegistry()
	reg.Add(signer.PublicKeyB64, signer.KeyID)
	ks := NewKeySet(signer.KeyID)

	r := NewRotator("alice", ks, reg).WithClock(fixedClock)
	_, err = r.Revoke(signer.KeyID, signer.PrivateSeedB64, signer.KeyID, nil)
	assert.ErrorIs(t, err, ErrSelfRevocation)
	assert.True(t, reg.IsActive(signer.KeyID))
}

func TestFullRotationLeavesHistoryValid(t *testing.T) {
	old, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	replacement, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	second, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	reg := crypto.NewKeyRegistry()
	reg.Add(old.PublicKeyB64, old.KeyID)
	reg.Add(second.PublicKeyB64, second.KeyID)
	ks := NewKeySet(old.KeyID, second.KeyID)
	r := NewRotator("alice", ks, reg).WithClock(fixedClock)

	// An event signed before the rotation.
	historic, err := event.Sign(event.Event{
		Type:         event.TypeObservation,
		Actor:        "alice",
		TimestampUTC: fixedClock(),
		Payload:      map[string]any{"subject": "door", "predicate": "state", "value": "open"},
	}, old.PrivateSeedB64, old.KeyID)
	require.NoError(t, err)

	_, err = r.Promote(second.KeyID, second.PrivateSeedB64, replacement.KeyID, replacement.PublicKeyB64, nil)
	require.NoError(t, err)
	_, err = r.Revoke(second.KeyID, second.PrivateSeedB64, old.KeyID, nil)
	require.NoError(t, err)

	// The revoked key signs nothing new, but its history remains evidence.
	assert.False(t, reg.IsActive(old.KeyID))
	assert.True(t, event.VerifySignature(historic, old.PublicKeyB64))
	assert.True(t, reg.IsActive(replacement.KeyID))
}
