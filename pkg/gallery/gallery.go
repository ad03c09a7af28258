// Package gallery builds and holds the enrolled reference descriptors.
//
// A Gallery maps each Identity to the descriptors extracted from its sample
// images. It is assembled once by a Builder and is read-only afterwards, so
// it can be shared by any number of readers without locking.
package gallery

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/MrCodeEU/facerange/pkg/recognition"
	"golang.org/x/crypto/blake2b"
)

// Identity names one enrolled subject.
type Identity string

// ReservedIdentity is the label matching reports for faces that resolve
// to no enrolled identity. It cannot be enrolled.
const ReservedIdentity Identity = "unknown"

// Entry is one identity with its reference descriptors.
type Entry struct {
	Identity    Identity
	Descriptors []recognition.Descriptor
}

// Gallery is an immutable, ordered set of entries.
type Gallery struct {
	entries []Entry
	index   map[Identity]int
}

// New assembles a gallery from entries. Entries are copied; callers may
// reuse the slice. Duplicate, empty or reserved identities fail with ErrInvalidIdentity.
func New(entries []Entry) (*Gallery, error) {
	ids := make([]Identity, len(entries))
	for i, e := range entries {
		ids[i] = e.Identity
	}
	if err := validateIdentities(ids); err != nil {
		return nil, err
	}

	g := &Gallery{
		entries: make([]Entry, len(entries)),
		index:   make(map[Identity]int, len(entries)),
	}
	for i, e := range entries {
		descriptors := make([]recognition.Descriptor, len(e.Descriptors))
		copy(descriptors, e.Descriptors)
		g.entries[i] = Entry{Identity: e.Identity, Descriptors: descriptors}
		g.index[e.Identity] = i
	}
	return g, nil
}

// Len returns the number of identities.
func (g *Gallery) Len() int {
	return len(g.entries)
}

// Identities returns the identities in enrollment order.
func (g *Gallery) Identities() []Identity {
	ids := make([]Identity, len(g.entries))
	for i, e := range g.entries {
		ids[i] = e.Identity
	}
	return ids
}

// Descriptors returns a copy of the descriptors enrolled for id.
func (g *Gallery) Descriptors(id Identity) []recognition.Descriptor {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]recognition.Descriptor, len(g.entries[i].Descriptors))
	copy(out, g.entries[i].Descriptors)
	return out
}

// DescriptorCount returns the total number of descriptors across all identities.
func (g *Gallery) DescriptorCount() int {
	n := 0
	for _, e := range g.entries {
		n += len(e.Descriptors)
	}
	return n
}

// Unmatchable lists identities enrolled without any descriptor.
func (g *Gallery) Unmatchable() []Identity {
	var ids []Identity
	for _, e := range g.entries {
		if len(e.Descriptors) == 0 {
			ids = append(ids, e.Identity)
		}
	}
	return ids
}

// Each calls fn for every entry in enrollment order. The descriptor slice
// must not be modified.
func (g *Gallery) Each(fn func(id Identity, descriptors []recognition.Descriptor)) {
	for _, e := range g.entries {
		fn(e.Identity, e.Descriptors)
	}
}

// Fingerprint returns a hex blake2b-256 digest of every identity and descriptor.
// Two galleries with the same content in the same order share a fingerprint.
func (g *Gallery) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	var buf [4]byte
	for _, e := range g.entries {
		binary.BigEndian.PutUint32(buf[:], uint32(len(e.Identity)))
		h.Write(buf[:])
		h.Write([]byte(e.Identity))
		binary.BigEndian.PutUint32(buf[:], uint32(len(e.Descriptors)))
		h.Write(buf[:])
		for _, d := range e.Descriptors {
			for _, v := range d {
				binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
				h.Write(buf[:])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
