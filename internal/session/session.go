// Package session stores the per-run session document: a JSON object keyed
// by company website whose values are company records.
package session

import (
	"context"
	"errors"
)

// Sentinel errors returned by every backend.
var (
	ErrNotFound        = errors.New("session: document not found")
	ErrVersionConflict = errors.New("session: version conflict")
	ErrInvalidID       = errors.New("session: invalid document id")
)

// Document maps a company website to its record.
type Document map[string]CompanyRecord

// Version identifies a stored revision of a document. NoVersion means the
// document does not exist yet.
type Version string

// NoVersion is the version of an absent document.
const NoVersion Version = ""

// Store reads and writes whole session documents. Writes replace the stored
// document; concurrent read-modify-write cycles against a plain Store are
// last-writer-wins.
type Store interface {
	Read(ctx context.Context, id string) (Document, error)
	Write(ctx context.Context, id string, doc Document) error
	Exists(ctx context.Context, id string) (bool, error)
}

// VersionedStore is a Store with compare-and-swap writes. WriteVersion fails
// with ErrVersionConflict when the stored version differs from expected;
// expected == NoVersion requires that the document does not exist.
type VersionedStore interface {
	Store
	ReadVersion(ctx context.Context, id string) (Document, Version, error)
	WriteVersion(ctx context.Context, id string, doc Document, expected Version) error
}

// Merge returns a new document holding old's entries overlaid by patch.
// Entries are replaced whole, never merged field by field.
func Merge(old, patch Document) Document {
	out := make(Document, len(old)+len(patch))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Probabilities returns the website → probability view used by the
// analysis endpoint. Records without a probability are left out.
func (d Document) Probabilities() map[string]*Probability {
	out := make(map[string]*Probability, len(d))
	for k, rec := range d {
		if rec.Probability != nil {
			out[k] = rec.Probability
		}
	}
	return out
}
