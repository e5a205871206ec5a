// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Package names assigns stable dwarf display names to opaque agent
// identifiers. Assignment is deterministic for a given identifier and
// guaranteed collision-free among currently assigned names for any
// population well below the prefix×suffix cross-product.
package names

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"
)

// prefixes and suffixes are the syllable pools. Both lists are fixed:
// reordering or removing entries changes which name an identifier
// hashes to, which would rename returning agents.
var prefixes = []string{
	"Bal", "Bof", "Bom", "Dain", "Dur", "Dwal", "Fal", "Fim",
	"Gim", "Glo", "Grim", "Gror", "Kaz", "Khar", "Kil", "Mor",
	"Nal", "Nor", "Ori", "Thor", "Thra", "Tor", "Ulf", "Vond",
}

var suffixes = []string{
	"ak", "ar", "bek", "din", "dur", "fur", "gar", "grim",
	"in", "li", "lin", "mir", "nar", "nik", "or", "rik",
	"rin", "son", "ur", "vik",
}

// identifierKey is the BLAKE3 keyed-hash domain key for identifier
// hashing. A fixed constant: changing it renames every agent. The
// bytes are the ASCII domain name zero-padded to 32 bytes, readable
// in hex dumps without weakening the hash.
var identifierKey = [32]byte{
	'h', 'a', 'm', 'l', 'e', 't', '.', 'n', 'a', 'm', 'e', 's', '.',
	'i', 'd', 'e', 'n', 't', 'i', 'f', 'i', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Allocator maps opaque agent identifiers to unique display names.
// Safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	byID   map[string]string
	byName map[string]string
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		byID:   make(map[string]string),
		byName: make(map[string]string),
	}
}

// Assign returns the display name for identifier, assigning one on
// first call. Repeated calls for the same identifier return the same
// name. The candidate name is derived from a stable hash of the
// identifier; if that name is held by a different identifier, the
// allocator probes forward through the suffix list, wrapping into the
// next prefix, until a free combination is found. When every
// combination is taken the last-probed candidate is returned even
// though it collides — an accepted degenerate case at populations
// beyond the cross-product size.
func (a *Allocator) Assign(identifier string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name, ok := a.byID[identifier]; ok {
		return name
	}

	total := len(prefixes) * len(suffixes)
	start := int(hashIdentifier(identifier) % uint64(total))

	candidate := ""
	for probe := 0; probe < total; probe++ {
		slot := (start + probe) % total
		candidate = prefixes[slot/len(suffixes)] + suffixes[slot%len(suffixes)]
		if _, taken := a.byName[candidate]; !taken {
			break
		}
	}

	a.byID[identifier] = candidate
	a.byName[candidate] = identifier
	return candidate
}

// Reserve records an existing identifier→name assignment, e.g. a name
// restored from the durable profile store at startup. Reserved names
// are returned verbatim by Assign for the same identifier and are
// skipped by the collision probe for other identifiers. Reserve
// reports whether the reservation took effect: a name already held by
// a different identifier is refused, leaving both assignments intact.
func (a *Allocator) Reserve(identifier, name string) bool {
	if identifier == "" || name == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if owner, taken := a.byName[name]; taken && owner != identifier {
		return false
	}
	// Re-reserving under a new name frees the old one.
	if previous, ok := a.byID[identifier]; ok && previous != name {
		if a.byName[previous] == identifier {
			delete(a.byName, previous)
		}
	}
	a.byID[identifier] = name
	a.byName[name] = identifier
	return true
}

// Release removes the identifier's assignment and frees its name for
// reuse. No-op if the identifier was never assigned.
func (a *Allocator) Release(identifier string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, ok := a.byID[identifier]
	if !ok {
		return
	}
	delete(a.byID, identifier)
	if a.byName[name] == identifier {
		delete(a.byName, name)
	}
}

// Len returns the number of currently assigned identifiers.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// Combinations returns the size of the name cross-product.
func Combinations() int {
	return len(prefixes) * len(suffixes)
}

// hashIdentifier computes the stable hash that seeds name selection.
// Keyed BLAKE3 provides domain separation from any other hashing of
// the same identifier strings.
func hashIdentifier(identifier string) uint64 {
	hasher, err := blake3.NewKeyed(identifierKey[:])
	if err != nil {
		// NewKeyed fails only on a wrong key size; the key is a
		// compile-time constant of exactly 32 bytes.
		panic("names: keyed hasher initialization failed: " + err.Error())
	}
	hasher.Write([]byte(identifier))
	digest := hasher.Sum(nil)
	return binary.BigEndian.Uint64(digest[:8])
}
