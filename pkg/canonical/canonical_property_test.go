//go:build property
// +build property

// Package canonical_test contains property-based tests for canonical
// serialization determinism.
package canonical_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/beliefbase/beliefbase/pkg/canonical"
)

// TestCanonicalDeterminism verifies serialization is a pure function.
// Property: Marshal(obj) == Marshal(obj) for any obj
func TestCanonicalDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Canonical serialization is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			a, err1 := canonical.Marshal(obj)
			b, err2 := canonical.Marshal(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalRawRoundTripStability verifies canonicalizing raw text is
// idempotent.
// Property: MarshalRaw(MarshalRaw(src)) == MarshalRaw(src)
func TestCanonicalRawRoundTripStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Raw canonicalization is idempotent", prop.ForAll(
		func(key, value string, n int, frac int) bool {
			if key == "" {
				return true
			}
			first, err := canonical.Marshal(map[string]any{
				key:     value,
				"count": n,
				"ratio": float64(frac) / 16.0,
			})
			if err != nil {
				return true
			}
			second, err := canonical.MarshalRaw(first)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(-1000, 1000),
		gen.IntRange(-64, 64),
	))

	properties.TestingRun(t)
}

// TestCanonicalHashAgreement verifies the typed and raw hash paths agree on
// already-canonical input.
func TestCanonicalHashAgreement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Hash and HashRaw agree on canonical text", prop.ForAll(
		func(key, value string) bool {
			if key == "" {
				return true
			}
			obj := map[string]any{key: value}
			typed, err1 := canonical.Hash(obj)
			if err1 != nil {
				return true
			}
			text, err2 := canonical.Marshal(obj)
			if err2 != nil {
				return false
			}
			raw, err3 := canonical.HashRaw(text)
			if err3 != nil {
				return false
			}
			return typed == raw
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
