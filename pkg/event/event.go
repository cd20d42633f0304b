// Package event implements the vault's signed, content-addressed log records
// and their per-actor causal chains.
//
// An event is immutable once created. Its id is derived from the canonical
// bytes of the base fields (type, actor, prev_event_hash, timestamp_utc,
// payload); the signature covers the base fields plus actor_key_id and
// event_id. Changing any field changes the id and invalidates the signature.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/crypto"
)

// EventIDPrefix tags every derived event id.
const EventIDPrefix = "evt_"

// Well-known event types. The reducer accepts unknown types and counts them
// without mutating belief state.
const (
	TypeObservation   = "OBSERVATION"
	TypeAssertion     = "ASSERTION"
	TypeAttestation   = "ATTESTATION"
	TypeRetraction    = "RETRACTION"
	TypeReducerEpoch  = "REDUCER_EPOCH"
	TypeKeyRevocation = "KEY_REVOCATION"
	TypeKeyPromotion  = "KEY_PROMOTION"
)

// Event is one signed log record. PrevEventHash is nil for the first event of
// an actor's chain and otherwise names the actor's previous event id.
type Event struct {
	Type          string         `json:"type"`
	Actor         string         `json:"actor"`
	ActorKeyID    string         `json:"actor_key_id,omitempty"`
	PrevEventHash *string        `json:"prev_event_hash"`
	TimestampUTC  string         `json:"timestamp_utc"`
	Payload       map[string]any `json:"payload"`
	EventID       string         `json:"event_id,omitempty"`
	Sig           string         `json:"sig,omitempty"`
}

// NowUTC returns the current time formatted for the timestamp_utc field.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// baseMap is the exact field set event ids are derived from.
func (e *Event) baseMap() map[string]any {
	var prev any
	if e.PrevEventHash != nil {
		prev = *e.PrevEventHash
	}
	return map[string]any{
		"type":            e.Type,
		"actor":           e.Actor,
		"prev_event_hash": prev,
		"timestamp_utc":   e.TimestampUTC,
		"payload":         e.Payload,
	}
}

// signedMap is the exact field set signatures cover: the base fields plus
// actor_key_id and event_id, never sig itself.
func (e *Event) signedMap() map[string]any {
	m := e.baseMap()
	m["actor_key_id"] = e.ActorKeyID
	m["event_id"] = e.EventID
	return m
}

// DeriveEventID computes the content address of the event's base fields.
func DeriveEventID(e *Event) (string, error) {
	b, err := canonical.Marshal(e.baseMap())
	if err != nil {
		return "", fmt.Errorf("event: canonicalize base failed: %w", err)
	}
	return EventIDPrefix + crypto.SHA256Hex(b)[:24], nil
}

// Sign derives the event id, stamps the signing key id, and attaches an
// Ed25519 signature over the canonical signed form. The input event is not
// modified.
func Sign(base Event, privateSeedB64, keyID string) (*Event, error) {
	id, err := DeriveEventID(&base)
	if err != nil {
		return nil, err
	}
	signed := base
	signed.ActorKeyID = keyID
	signed.EventID = id

	b, err := canonical.Marshal(signed.signedMap())
	if err != nil {
		return nil, fmt.Errorf("event: canonicalize for signing failed: %w", err)
	}
	sig, err := crypto.Sign(b, privateSeedB64)
	if err != nil {
		return nil, fmt.Errorf("event: sign failed: %w", err)
	}
	signed.Sig = sig
	return &signed, nil
}

// VerifySignature recomputes the canonical signed form of e (everything but
// sig) and checks its signature. Malformed events verify as false.
func VerifySignature(e *Event, publicKeyB64 string) bool {
	b, err := canonical.Marshal(e.signedMap())
	if err != nil {
		return false
	}
	return crypto.Verify(b, e.Sig, publicKeyB64)
}

// VerifySignatureRaw verifies a signature over raw source text, preserving
// each number literal's original int/float kind. Required when the line was
// produced by a different implementation.
func VerifySignatureRaw(rawLine []byte, publicKeyB64 string) bool {
	v, err := canonical.DecodeRaw(rawLine)
	if err != nil {
		return false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	sig, ok := obj["sig"].(string)
	if !ok {
		return false
	}
	delete(obj, "sig")
	b, err := canonical.Marshal(obj)
	if err != nil {
		return false
	}
	return crypto.Verify(b, sig, publicKeyB64)
}

// MarshalLine renders the full event, signature included, as one canonical
// NDJSON line without the trailing newline.
func MarshalLine(e *Event) ([]byte, error) {
	m := e.signedMap()
	m["sig"] = e.Sig
	b, err := canonical.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("event: canonicalize full event failed: %w", err)
	}
	return b, nil
}

// ParseLine decodes one event line. Payload numbers are kept as json.Number
// so a re-serialization reproduces the original int/float kinds.
func ParseLine(line []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var e Event
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("event: parse line: %w", err)
	}
	return &e, nil
}

// CanonicalHash hashes the full event including its signature. The merge
// engine uses it as a dedupe fallback for events missing an event_id; it is
// not a canonical identity.
func CanonicalHash(e *Event) (string, error) {
	b, err := MarshalLine(e)
	if err != nil {
		return "", err
	}
	return crypto.SHA256Hex(b), nil
}
