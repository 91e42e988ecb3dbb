package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainModule = "jobweave/module/v1"
	DomainType   = "jobweave/type/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ModuleHash computes the content-addressed identity of a module.
// Two modules hash equal iff their canonical JSON forms are equal, so a
// rewrite that changes nothing leaves the hash unchanged.
func ModuleHash(mod *Module) (string, error) {
	canonical, err := MarshalCanonical(mod)
	if err != nil {
		return "", fmt.Errorf("ModuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModule, canonical), nil
}

// TypeHash computes the identity of a single type definition. The store
// records it for every synthesized job record.
func TypeHash(t *TypeDef) (string, error) {
	canonical, err := MarshalCanonical(t)
	if err != nil {
		return "", fmt.Errorf("TypeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainType, canonical), nil
}

// MustModuleHash is like ModuleHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustModuleHash(mod *Module) string {
	h, err := ModuleHash(mod)
	if err != nil {
		panic(err)
	}
	return h
}
