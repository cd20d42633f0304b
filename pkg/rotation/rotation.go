// Package rotation implements the two-event key rotation protocol: revoking a
// compromised key and promoting its replacement, each as a signed event in
// the actor's causal chain.
//
// Two invariants hold unconditionally: a key never authorizes its own
// revocation or promotion, and a revoked key is permanently ineligible for
// re-promotion and future signing. If an actor's active set empties, the
// actor is locked out of future signing forever; its past events remain valid
// evidence.
package rotation

import (
	"errors"
	"fmt"

	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
)

// Precondition failures, each with a specific reason.
var (
	ErrSignerInactive  = errors.New("rotation: signer key is not active")
	ErrSelfRevocation  = errors.New("rotation: a key cannot revoke itself")
	ErrTargetNotActive = errors.New("rotation: target key is not active")
	ErrAlreadyActive   = errors.New("rotation: key is already active")
	ErrKeyRevoked      = errors.New("rotation: revoked keys can never be promoted again")
	ErrSelfPromotion   = errors.New("rotation: a key cannot promote itself")
)

// KeySet is one actor's signing key state.
type KeySet struct {
	Active  map[string]struct{}
	Revoked map[string]struct{}
}

// NewKeySet starts a key set with the given active key ids (typically the
// bootstrap key).
func NewKeySet(activeKeyIDs ...string) *KeySet {
	ks := &KeySet{
		Active:  make(map[string]struct{}),
		Revoked: make(map[string]struct{}),
	}
	for _, id := range activeKeyIDs {
		ks.Active[id] = struct{}{}
	}
	return ks
}

// Revoke moves targetKeyID to the revoked set. The signer must be a distinct
// active key.
func (k *KeySet) Revoke(signerKeyID, targetKeyID string) error {
	if _, ok := k.Active[signerKeyID]; !ok {
		return fmt.Errorf("%w: %s", ErrSignerInactive, signerKeyID)
	}
	if signerKeyID == targetKeyID {
		return fmt.Errorf("%w: %s", ErrSelfRevocation, targetKeyID)
	}
	if _, ok := k.Active[targetKeyID]; !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotActive, targetKeyID)
	}
	delete(k.Active, targetKeyID)
	k.Revoked[targetKeyID] = struct{}{}
	return nil
}

// Promote adds newKeyID to the active set. The signer must be active, and the
// new key must be neither active nor previously revoked.
func (k *KeySet) Promote(signerKeyID, newKeyID string) error {
	if _, ok := k.Active[signerKeyID]; !ok {
		return fmt.Errorf("%w: %s", ErrSignerInactive, signerKeyID)
	}
	if signerKeyID == newKeyID {
		return fmt.Errorf("%w: %s", ErrSelfPromotion, newKeyID)
	}
	if _, ok := k.Revoked[newKeyID]; ok {
		return fmt.Errorf("%w: %s", ErrKeyRevoked, newKeyID)
	}
	if _, ok := k.Active[newKeyID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, newKeyID)
	}
	k.Active[newKeyID] = struct{}{}
	return nil
}

// LockedOut reports the terminal state: no active keys remain, so the actor
// can never sign again.
func (k *KeySet) LockedOut() bool {
	return len(k.Active) == 0
}

// Rotator applies rotations for one actor, keeping the key set and the key
// registry in step and emitting the signed rotation events.
type Rotator struct {
	Actor    string
	Keys     *KeySet
	Registry crypto.KeyRegistry

	now func() string
}

// NewRotator wires a rotator for one actor over an explicit registry value.
func NewRotator(actor string, keys *KeySet, registry crypto.KeyRegistry) *Rotator {
	return &Rotator{Actor: actor, Keys: keys, Registry: registry, now: event.NowUTC}
}

// WithClock overrides the timestamp source for testing.
func (r *Rotator) WithClock(now func() string) *Rotator {
	r.now = now
	return r
}

// Revoke checks preconditions, emits a signed KEY_REVOCATION event chained
// after prevEventHash, and applies the revocation to the key set and
// registry.
func (r *Rotator) Revoke(signerKeyID, signerSeedB64, targetKeyID string, prevEventHash *string) (*event.Event, error) {
	if err := r.Keys.Revoke(signerKeyID, targetKeyID); err != nil {
		return nil, err
	}
	base := event.Event{
		Type:          event.TypeKeyRevocation,
		Actor:         r.Actor,
		PrevEventHash: prevEventHash,
		TimestampUTC:  r.now(),
		Payload: map[string]any{
			"target_key_id": targetKeyID,
		},
	}
	signed, err := event.Sign(base, signerSeedB64, signerKeyID)
	if err != nil {
		return nil, fmt.Errorf("rotation: sign revocation: %w", err)
	}
	r.Registry.Revoke(targetKeyID)
	return signed, nil
}

// Promote checks preconditions, emits a signed KEY_PROMOTION event chained
// after prevEventHash, and registers the new key as active.
func (r *Rotator) Promote(signerKeyID, signerSeedB64, newKeyID, newPublicKeyB64 string, prevEventHash *string) (*event.Event, error) {
	if err := r.Keys.Promote(signerKeyID, newKeyID); err != nil {
		return nil, err
	}
	base := event.Event{
		Type:          event.TypeKeyPromotion,
		Actor:         r.Actor,
		PrevEventHash: prevEventHash,
		TimestampUTC:  r.now(),
		Payload: map[string]any{
			"new_key_id":         newKeyID,
			"new_public_key_b64": newPublicKeyB64,
		},
	}
	signed, err := event.Sign(base, signerSeedB64, signerKeyID)
	if err != nil {
		return nil, fmt.Errorf("rotation: sign promotion: %w", err)
	}
	r.Registry.Add(newPublicKeyB64, newKeyID)
	return signed, nil
}
