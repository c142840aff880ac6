// Package keyset implements the canonical key model:
// hierarchical keys, partial-key prefixing, and the 3x3 certification
// matrix that the certification index evaluates on every key lookup.
package keyset

import (
	"bytes"
	"encoding/binary"

	"github.com/behrlich/go-wsrep/internal/core"
)

// Part is one segment of a hierarchical key plus its certification type.
// The type does not participate in byte identity: two parts with the same
// Value but different Type compare equal for indexing purposes.
type Part struct {
	Value []byte
	Type  core.KeyType
}

// Key is an ordered, non-empty sequence of parts.
type Key struct {
	Parts []Part
}

// Prefixed is one indexable prefix of a Key: either a proper prefix
// (Full == false) or the key in its entirety (Full == true).
type Prefixed struct {
	Bytes []byte // canonical encoding of Parts[:n]
	Type  core.KeyType
	Full  bool
}

// Prefixes returns every proper prefix of k followed by the full key,
// each carrying the certification type of its last part (the type that
// governs matching at that depth).
func (k Key) Prefixes() []Prefixed {
	out := make([]Prefixed, 0, len(k.Parts))
	for n := 1; n <= len(k.Parts); n++ {
		out = append(out, Prefixed{
			Bytes: canonicalBytes(k.Parts[:n]),
			Type:  k.Parts[n-1].Type,
			Full:  n == len(k.Parts),
		})
	}
	return out
}

// canonicalBytes joins length-prefixed part values so that distinct part
// sequences never alias to the same encoded key (avoids the classic
// "a"+"bc" == "ab"+"c" bug of naive concatenation).
func canonicalBytes(parts []Part) []byte {
	var buf bytes.Buffer
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p.Value)))
		buf.Write(lenBuf[:])
		buf.Write(p.Value)
	}
	return buf.Bytes()
}

// KeySet is the ordered collection of keys a writeset references.
type KeySet struct {
	Keys []Key
}

// Action is the outcome of checking a new key reference against an
// existing one, per the 3x3 certification matrix.
type Action uint8

const (
	// ActionNothing: no conflict, no dependency.
	ActionNothing Action = iota
	// ActionDependency: no conflict, but the new writeset must depend on
	// the seqno that installed the existing reference.
	ActionDependency
	// ActionConflictCandidate: a conflict is possible; realized only if
	// the certification admission preconditions also hold.
	ActionConflictCandidate
)

// Check realizes the matrix: rows are the existing (older) reference's
// type, columns are the new writeset's key type.
func Check(existing, new core.KeyType) Action {
	switch existing {
	case core.KeyExclusive:
		return ActionConflictCandidate // EXCL row is C regardless of column
	case core.KeySemi:
		if new == core.KeyExclusive {
			return ActionConflictCandidate
		}
		return ActionNothing
	case core.KeyShared:
		if new == core.KeyExclusive {
			return ActionDependency
		}
		return ActionNothing
	default:
		return ActionNothing
	}
}
