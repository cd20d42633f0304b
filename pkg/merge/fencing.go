package merge

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
	"github.com/beliefbase/beliefbase/pkg/vault"
)

// FencingToken is a signed proof of a last-known chain head, created per
// write attempt and never persisted as log state. A holder whose referenced
// event has been pruned or rewritten is a stale writer.
type FencingToken struct {
	LatestEventHash string `json:"latest_event_hash"`
	Timestamp       string `json:"timestamp"`
	Nonce           string `json:"nonce"`
	Sig             string `json:"sig"`
}

func fencingSigningBytes(t *FencingToken) ([]byte, error) {
	return canonical.Marshal(map[string]any{
		"latest_event_hash": t.LatestEventHash,
		"timestamp":         t.Timestamp,
		"nonce":             t.Nonce,
	})
}

// CreateFencingToken mints a token over the writer's view of the chain head.
func CreateFencingToken(latestEventHash, privateSeedB64 string, now func() string) (*FencingToken, error) {
	if now == nil {
		now = event.NowUTC
	}
	t := &FencingToken{
		LatestEventHash: latestEventHash,
		Timestamp:       now(),
		Nonce:           uuid.NewString(),
	}
	b, err := fencingSigningBytes(t)
	if err != nil {
		return nil, fmt.Errorf("merge: canonicalize fencing token: %w", err)
	}
	sig, err := crypto.Sign(b, privateSeedB64)
	if err != nil {
		return nil, fmt.Errorf("merge: sign fencing token: %w", err)
	}
	t.Sig = sig
	return t, nil
}

// ValidateFencingToken checks a serialized token: well-formed JSON, a
// signature valid against some active key in the vault's registry, and the
// referenced event still present in the current log. The referenced event
// need not still be the chain head; the token only goes stale when that
// event is pruned or rewritten.
func ValidateFencingToken(tokenJSON []byte, v *vault.Vault) (bool, string) {
	raw, err := canonical.DecodeRaw(tokenJSON)
	if err != nil {
		return false, fmt.Sprintf("malformed token: %v", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return false, "malformed token: not an object"
	}
	t := FencingToken{}
	t.LatestEventHash, _ = obj["latest_event_hash"].(string)
	t.Timestamp, _ = obj["timestamp"].(string)
	t.Nonce, _ = obj["nonce"].(string)
	t.Sig, _ = obj["sig"].(string)
	if t.LatestEventHash == "" || t.Sig == "" {
		return false, "malformed token: missing fields"
	}

	b, err := fencingSigningBytes(&t)
	if err != nil {
		return false, fmt.Sprintf("malformed token: %v", err)
	}
	signed := false
	for _, entry := range v.Registry {
		if entry.Status != crypto.KeyStatusActive {
			continue
		}
		if crypto.Verify(b, t.Sig, entry.PublicKeyB64) {
			signed = true
			break
		}
	}
	if !signed {
		return false, "signature not valid against any active key"
	}

	if !v.HasEvent(t.LatestEventHash) {
		return false, fmt.Sprintf("referenced event %s not in log", t.LatestEventHash)
	}
	return true, ""
}
