package vault

import (
	"fmt"

	"github.com/beliefbase/beliefbase/pkg/event"
)

// SignatureFailure names one event whose signature check failed and why.
type SignatureFailure struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// Report is the result of full vault verification. Each failed check
// identifies what failed (signature, chain, or merkle) and on which event or
// file; nothing passes silently.
type Report struct {
	Signatures []SignatureFailure           `json:"signatures"`
	Chains     map[string]event.ChainStatus `json:"chains"`
	Forks      []event.Fork                 `json:"forks"`
	Manifest   []ManifestCheck              `json:"manifest"`
}

// OK reports whether every check passed. Forks are not failures; they are
// divergence evidence awaiting merge.
func (r *Report) OK() bool {
	if len(r.Signatures) > 0 || len(r.Manifest) > 0 {
		return false
	}
	for _, c := range r.Chains {
		if !c.Valid {
			return false
		}
	}
	return true
}

// Verify runs the full check suite over the vault: every event signature
// against the registry (revoked keys still verify historical events), every
// actor's causal chain independently, fork detection, and the manifest seal
// plus file digests when a manifest and sealing key are available.
func (v *Vault) Verify(manifestPublicKeyB64 string) *Report {
	report := &Report{}

	for _, e := range v.Events {
		pub, ok := v.Registry.PublicKey(e.ActorKeyID)
		if !ok {
			report.Signatures = append(report.Signatures, SignatureFailure{
				EventID: e.EventID,
				Reason:  fmt.Sprintf("signer key %s not in registry", e.ActorKeyID),
			})
			continue
		}
		if !event.VerifySignature(e, pub) {
			report.Signatures = append(report.Signatures, SignatureFailure{
				EventID: e.EventID,
				Reason:  "signature invalid",
			})
		}
	}

	report.Chains = event.VerifyChains(v.Events)
	report.Forks = event.DetectForks(v.Events)

	if manifestPublicKeyB64 != "" {
		m, err := v.LoadManifest()
		if err != nil {
			report.Manifest = append(report.Manifest, ManifestCheck{
				Check: "manifest", Error: err.Error(),
			})
		} else {
			report.Manifest = v.VerifyManifest(m, manifestPublicKeyB64)
		}
	}
	return report
}

// SignAndAppend builds, signs, and appends a new event for the vault's actor,
// chaining it after the actor's current head. The signing key must be active
// in the registry; signing with an unknown or revoked key is refused at
// verification time as well as here.
func (v *Vault) SignAndAppend(eventType string, payload map[string]any, privateSeedB64, keyID string) (*event.Event, error) {
	if !v.Registry.IsActive(keyID) {
		return nil, fmt.Errorf("vault: key %s is not active", keyID)
	}
	base := event.Event{
		Type:          eventType,
		Actor:         v.Config.Actor,
		PrevEventHash: v.Head(v.Config.Actor),
		TimestampUTC:  event.NowUTC(),
		Payload:       payload,
	}
	signed, err := event.Sign(base, privateSeedB64, keyID)
	if err != nil {
		return nil, err
	}
	if err := v.Append(signed); err != nil {
		return nil, err
	}
	return signed, nil
}
