package crypto

// KeyStatus is the lifecycle state of a registered key. Revocation is
// permanent: a revoked key never signs again, but its past signatures remain
// valid evidence.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// KeyEntry describes one registered key.
type KeyEntry struct {
	PublicKeyB64 string    `json:"public_key_b64"`
	Status       KeyStatus `json:"status"`
}

// KeyRegistry maps key id to key entry. It is a plain value passed explicitly
// into every verification call; callers construct it once per operation and
// must not mutate it concurrently.
type KeyRegistry map[string]KeyEntry

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() KeyRegistry {
	return make(KeyRegistry)
}

// Add registers a public key as active and returns its derived key id.
func (r KeyRegistry) Add(publicKeyB64 string, keyID string) {
	r[keyID] = KeyEntry{PublicKeyB64: publicKeyB64, Status: KeyStatusActive}
}

// Revoke marks a key revoked. The entry is kept so historical signatures stay
// verifiable.
func (r KeyRegistry) Revoke(keyID string) {
	if e, ok := r[keyID]; ok {
		e.Status = KeyStatusRevoked
		r[keyID] = e
	}
}

// IsActive reports whether keyID is registered and active.
func (r KeyRegistry) IsActive(keyID string) bool {
	e, ok := r[keyID]
	return ok && e.Status == KeyStatusActive
}

// PublicKey returns the registered public key for keyID, regardless of
// status, so past evidence can still be checked.
func (r KeyRegistry) PublicKey(keyID string) (string, bool) {
	e, ok := r[keyID]
	if !ok {
		return "", false
	}
	return e.PublicKeyB64, true
}

// Clone returns an independent copy of the registry.
func (r KeyRegistry) Clone() KeyRegistry {
	out := make(KeyRegistry, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// VerifyAsActive checks a signature against a registry entry and insists the
// signing key is currently active. Unknown and revoked keys verify as false.
func VerifyAsActive(data []byte, sigB64, keyID string, reg KeyRegistry) bool {
	if !reg.IsActive(keyID) {
		return false
	}
	pub, ok := reg.PublicKey(keyID)
	if !ok {
		return false
	}
	return Verify(data, sigB64, pub)
}

// VerifyAsEvidence checks a signature against a registry entry without
// requiring the key to still be active. Used for historical events signed
// before a rotation.
func VerifyAsEvidence(data []byte, sigB64, keyID string, reg KeyRegistry) bool {
	pub, ok := reg.PublicKey(keyID)
	if !ok {
		return false
	}
	return Verify(data, sigB64, pub)
}
