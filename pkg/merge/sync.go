package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
	"github.com/beliefbase/beliefbase/pkg/store"
	"github.com/beliefbase/beliefbase/pkg/vault"
)

// SyncOptions configures a sync run. SignerSeedB64 seals the regenerated
// manifest; when Checkpoints is set, a signed checkpoint of the new state is
// recorded as well.
type SyncOptions struct {
	SignerSeedB64 string
	SignerKeyID   string
	Now           func() string
	Checkpoints   *store.CheckpointStore
	Logger        *slog.Logger
}

// SyncResult reports what a sync changed.
type SyncResult struct {
	AddedFromRemote int          `json:"added_from_remote"`
	Duplicates      int          `json:"duplicates"`
	Forks           []event.Fork `json:"forks"`
	NewStateHash    string       `json:"new_state_hash"`
	MerkleRoot      string       `json:"merkle_root"`
}

// Sync merges remote events into the local vault, replays the entire merged
// log through a fresh reducer (never incremental patching), regenerates the
// sealed manifest, and optionally records a signed checkpoint.
func Sync(ctx context.Context, local *vault.Vault, remoteEvents []*event.Event, opts SyncOptions) (*SyncResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = event.NowUTC
	}

	merged, err := EventLogs(local.Events, remoteEvents)
	if err != nil {
		return nil, fmt.Errorf("merge: union failed: %w", err)
	}
	if err := local.RewriteLog(merged.Events); err != nil {
		return nil, err
	}

	state, err := local.Replay()
	if err != nil {
		return nil, err
	}

	manifest, err := local.GenerateManifest(opts.SignerSeedB64, now())
	if err != nil {
		return nil, err
	}

	res := &SyncResult{
		AddedFromRemote: merged.FromB,
		Duplicates:      merged.Duplicates,
		Forks:           merged.Forks,
		NewStateHash:    state.Metadata.StateHash,
		MerkleRoot:      manifest.MerkleRoot,
	}

	logger.Info("sync complete",
		"vault", local.Config.VaultUID,
		"added", res.AddedFromRemote,
		"duplicates", res.Duplicates,
		"forks", len(res.Forks),
		"state_hash", res.NewStateHash)

	if opts.Checkpoints != nil {
		cp := store.Checkpoint{
			VaultUID:   local.Config.VaultUID,
			StateHash:  state.Metadata.StateHash,
			MerkleRoot: manifest.MerkleRoot,
			EventCount: len(merged.Events),
			KeyID:      opts.SignerKeyID,
			CreatedAt:  now(),
		}
		sig, err := signCheckpoint(cp, opts.SignerSeedB64)
		if err != nil {
			return nil, err
		}
		cp.Signature = sig
		if err := opts.Checkpoints.Append(ctx, cp); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// signCheckpoint seals the checkpoint fields minus the signature itself.
func signCheckpoint(cp store.Checkpoint, privateSeedB64 string) (string, error) {
	b, err := canonical.Marshal(map[string]any{
		"vault_uid":   cp.VaultUID,
		"state_hash":  cp.StateHash,
		"merkle_root": cp.MerkleRoot,
		"event_count": cp.EventCount,
		"key_id":      cp.KeyID,
		"created_at":  cp.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("merge: canonicalize checkpoint: %w", err)
	}
	sig, err := crypto.Sign(b, privateSeedB64)
	if err != nil {
		return "", fmt.Errorf("merge: sign checkpoint: %w", err)
	}
	return sig, nil
}

// VerifyCheckpoint checks a stored checkpoint's seal against a public key.
func VerifyCheckpoint(cp store.Checkpoint, publicKeyB64 string) bool {
	b, err := canonical.Marshal(map[string]any{
		"vault_uid":   cp.VaultUID,
		"state_hash":  cp.StateHash,
		"merkle_root": cp.MerkleRoot,
		"event_count": cp.EventCount,
		"key_id":      cp.KeyID,
		"created_at":  cp.CreatedAt,
	})
	if err != nil {
		return false
	}
	return crypto.Verify(b, cp.Signature, publicKeyB64)
}
