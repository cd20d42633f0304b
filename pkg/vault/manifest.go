package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beliefbase/beliefbase/pkg/canonical"
	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/merkle"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// FileEntry is one file covered by the manifest.
type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest seals the vault's file set: per-file digests, a Merkle root over
// the file contents in path order, and an Ed25519 signature over the manifest
// minus its own signature field. It is regenerated whenever the file set
// changes.
type Manifest struct {
	ManifestVersion int         `json:"manifest_version"`
	VaultUID        string      `json:"vault_uid"`
	GeneratedAt     string      `json:"generated_at"`
	Files           []FileEntry `json:"files"`
	MerkleRoot      string      `json:"merkle_root"`
	Signature       string      `json:"signature"`
}

// signingMap is the manifest minus its signature, as the canonical value the
// seal covers.
func (m *Manifest) signingMap() map[string]any {
	files := make([]any, len(m.Files))
	for i, f := range m.Files {
		files[i] = map[string]any{
			"path":   f.Path,
			"sha256": f.SHA256,
			"size":   f.Size,
		}
	}
	return map[string]any{
		"manifest_version": m.ManifestVersion,
		"vault_uid":        m.VaultUID,
		"generated_at":     m.GeneratedAt,
		"files":            files,
		"merkle_root":      m.MerkleRoot,
	}
}

// GenerateManifest hashes every vault file (except the manifest itself and
// temp files), roots them in path order, and seals the result with the given
// signing key.
func (v *Vault) GenerateManifest(privateSeedB64, generatedAt string) (*Manifest, error) {
	paths, err := v.manifestPaths()
	if err != nil {
		return nil, err
	}

	entries := make([]FileEntry, 0, len(paths))
	leaves := make([][]byte, 0, len(paths))
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(v.Dir, rel))
		if err != nil {
			return nil, fmt.Errorf("vault: read %s for manifest: %w", rel, err)
		}
		entries = append(entries, FileEntry{
			Path:   rel,
			SHA256: crypto.SHA256Hex(data),
			Size:   int64(len(data)),
		})
		leaves = append(leaves, data)
	}

	m := &Manifest{
		ManifestVersion: ManifestVersion,
		VaultUID:        v.Config.VaultUID,
		GeneratedAt:     generatedAt,
		Files:           entries,
		MerkleRoot:      merkle.Root(leaves),
	}

	b, err := canonical.Marshal(m.signingMap())
	if err != nil {
		return nil, fmt.Errorf("vault: canonicalize manifest: %w", err)
	}
	sig, err := crypto.Sign(b, privateSeedB64)
	if err != nil {
		return nil, fmt.Errorf("vault: sign manifest: %w", err)
	}
	m.Signature = sig

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("vault: encode manifest: %w", err)
	}
	path := filepath.Join(v.Dir, v.Config.ManifestFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("vault: write manifest: %w", err)
	}
	return m, nil
}

// manifestPaths lists the files the manifest covers, sorted by path.
func (v *Vault) manifestPaths() ([]string, error) {
	dirEntries, err := os.ReadDir(v.Dir)
	if err != nil {
		return nil, fmt.Errorf("vault: list vault dir: %w", err)
	}
	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if name == v.Config.ManifestFile || strings.HasSuffix(name, ".tmp") {
			continue
		}
		paths = append(paths, name)
	}
	sort.Strings(paths)
	return paths, nil
}

// ManifestCheck is one verification finding, naming the file and check that
// failed.
type ManifestCheck struct {
	Check string `json:"check"`
	File  string `json:"file,omitempty"`
	Error string `json:"error"`
}

// LoadManifest reads the vault's manifest file.
func (v *Vault) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(v.Dir, v.Config.ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("vault: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("vault: parse manifest: %w", err)
	}
	return &m, nil
}

// VerifyManifest re-hashes the vault's files against a manifest and checks
// its seal against the given public key. It returns every failed check, one
// finding per file or check, never a bare boolean.
func (v *Vault) VerifyManifest(m *Manifest, publicKeyB64 string) []ManifestCheck {
	var findings []ManifestCheck

	b, err := canonical.Marshal(m.signingMap())
	if err != nil {
		findings = append(findings, ManifestCheck{Check: "signature", Error: err.Error()})
	} else if !crypto.Verify(b, m.Signature, publicKeyB64) {
		findings = append(findings, ManifestCheck{Check: "signature", Error: "manifest signature invalid"})
	}

	leaves := make([][]byte, 0, len(m.Files))
	for _, f := range m.Files {
		data, err := os.ReadFile(filepath.Join(v.Dir, f.Path))
		if err != nil {
			findings = append(findings, ManifestCheck{Check: "file", File: f.Path, Error: err.Error()})
			leaves = append(leaves, nil)
			continue
		}
		if got := crypto.SHA256Hex(data); got != f.SHA256 {
			findings = append(findings, ManifestCheck{
				Check: "sha256", File: f.Path,
				Error: fmt.Sprintf("digest mismatch: manifest %s, disk %s", f.SHA256, got),
			})
		}
		if int64(len(data)) != f.Size {
			findings = append(findings, ManifestCheck{
				Check: "size", File: f.Path,
				Error: fmt.Sprintf("size mismatch: manifest %d, disk %d", f.Size, len(data)),
			})
		}
		leaves = append(leaves, data)
	}

	if got := merkle.Root(leaves); got != m.MerkleRoot {
		findings = append(findings, ManifestCheck{
			Check: "merkle",
			Error: fmt.Sprintf("root mismatch: manifest %s, recomputed %s", m.MerkleRoot, got),
		})
	}
	return findings
}
