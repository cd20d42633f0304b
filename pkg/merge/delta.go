package merge

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
	"github.com/beliefbase/beliefbase/pkg/vault"
)

// eventLineSchema is the structural contract every imported delta line must
// meet before any cryptographic check runs.
const eventLineSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "actor", "actor_key_id", "prev_event_hash", "timestamp_utc", "payload", "event_id", "sig"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"actor": {"type": "string", "minLength": 1},
		"actor_key_id": {"type": "string", "minLength": 1},
		"prev_event_hash": {"type": ["string", "null"]},
		"timestamp_utc": {"type": "string", "minLength": 1},
		"payload": {"type": "object"},
		"event_id": {"type": "string", "pattern": "^evt_[0-9a-f]{24}$"},
		"sig": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

var compiledEventLineSchema = jsonschema.MustCompileString("event-line.json", eventLineSchema)

// DeltaHeader is the first line of a delta bundle.
type DeltaHeader struct {
	Source     string  `json:"source"`
	SinceHash  *string `json:"since_hash"`
	ExportedAt string  `json:"exported_at"`
}

// LineError records one rejected delta line and why it was rejected.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportResult itemizes a strict delta import: every line is accepted,
// rejected with a reason, or a duplicate of an already-known event.
type ImportResult struct {
	Header   DeltaHeader `json:"header"`
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Errors   []LineError `json:"errors"`
	Sync     *SyncResult `json:"sync"`
}

// ExportDelta renders the events after sinceEventID (or all, when nil) as a
// delta bundle: one JSON header line, then one canonical event line each.
func ExportDelta(v *vault.Vault, sinceEventID *string, now func() string) ([]byte, error) {
	if now == nil {
		now = event.NowUTC
	}
	start := 0
	if sinceEventID != nil {
		found := false
		for i, e := range v.Events {
			if e.EventID == *sinceEventID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("merge: since event %s not in log", *sinceEventID)
		}
	}

	var sinceHash any
	if sinceEventID != nil {
		sinceHash = *sinceEventID
	}
	header, err := canonical.Marshal(map[string]any{
		"source":      v.Config.VaultUID,
		"since_hash":  sinceHash,
		"exported_at": now(),
	})
	if err != nil {
		return nil, fmt.Errorf("merge: encode delta header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')
	for _, e := range v.Events[start:] {
		line, err := event.MarshalLine(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ImportDelta is the strict, forensic import path. Malformed and
// invalid-signature lines are rejected individually with a reason while the
// rest of the bundle continues to process; accepted events are union-merged,
// the reducer replays the full log, and the manifest is regenerated. A
// malformed header rejects the whole bundle. This deliberately contrasts with
// the vault's best-effort log loading, which skips bad lines silently.
//
// Signer lookup is evidence-mode: a line signed by a registered but since
// revoked key is accepted, because revocation ends a key's authority to sign
// new events without invalidating its history, and a delta line may carry
// exactly that history. Only keys the registry has never seen are rejected.
func ImportDelta(ctx context.Context, v *vault.Vault, bundle []byte, opts SyncOptions) (*ImportResult, error) {
	lines := strings.Split(string(bundle), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("merge: delta bundle missing header line")
	}

	res := &ImportResult{}
	headerVal, err := canonical.DecodeRaw([]byte(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("merge: delta header unparsable: %w", err)
	}
	headerObj, ok := headerVal.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merge: delta header is not an object")
	}
	res.Header.Source, _ = headerObj["source"].(string)
	if sh, ok := headerObj["since_hash"].(string); ok {
		res.Header.SinceHash = &sh
	}
	res.Header.ExportedAt, _ = headerObj["exported_at"].(string)

	var accepted []*event.Event
	for i, line := range lines[1:] {
		lineNo := i + 2
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, reason := verifyDeltaLine([]byte(line), v.Registry)
		if reason != "" {
			res.Rejected++
			res.Errors = append(res.Errors, LineError{Line: lineNo, Reason: reason})
			continue
		}
		accepted = append(accepted, e)
		res.Accepted++
	}

	sync, err := Sync(ctx, v, accepted, opts)
	if err != nil {
		return nil, err
	}
	res.Sync = sync
	return res, nil
}

// verifyDeltaLine runs the per-line forensic checks in order: structural
// schema, event-id derivation, known signer, signature over the raw bytes.
// It returns the parsed event, or a non-empty rejection reason.
func verifyDeltaLine(line []byte, registry crypto.KeyRegistry) (*event.Event, string) {
	raw, err := canonical.DecodeRaw(line)
	if err != nil {
		return nil, fmt.Sprintf("unparsable: %v", err)
	}
	if err := compiledEventLineSchema.Validate(raw); err != nil {
		return nil, fmt.Sprintf("schema: %v", err)
	}
	obj := raw.(map[string]any)

	// Recompute the content address from the raw base fields so a relabeled
	// event cannot smuggle a foreign id.
	derived, err := canonical.Marshal(map[string]any{
		"type":            obj["type"],
		"actor":           obj["actor"],
		"prev_event_hash": obj["prev_event_hash"],
		"timestamp_utc":   obj["timestamp_utc"],
		"payload":         obj["payload"],
	})
	if err != nil {
		return nil, fmt.Sprintf("canonicalize: %v", err)
	}
	claimedID, _ := obj["event_id"].(string)
	if want := event.EventIDPrefix + crypto.SHA256Hex(derived)[:24]; claimedID != want {
		return nil, fmt.Sprintf("event_id mismatch: claimed %s, derived %s", claimedID, want)
	}

	keyID, _ := obj["actor_key_id"].(string)
	pub, ok := registry.PublicKey(keyID)
	if !ok {
		return nil, fmt.Sprintf("unknown signer key %s", keyID)
	}
	if !event.VerifySignatureRaw(line, pub) {
		return nil, "signature invalid"
	}

	e, err := event.ParseLine(line)
	if err != nil {
		return nil, fmt.Sprintf("unparsable: %v", err)
	}
	return e, ""
}
