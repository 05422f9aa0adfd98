package types

import (
	"fmt"
	"regexp"
	"strings"
)

var identRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Record is a single archived entity. Once stored it is never overwritten.
type Record struct {
	// Type names the table/collection the record lives in (e.g. "guides").
	Type string

	// ID is the stable identity within Type. Numeric ids are kept as strings.
	ID string

	// ParentID optionally links the record to its owner (e.g. a reply's thread).
	ParentID string

	// Payload is the raw HTML or JSON blob as fetched.
	Payload string
}

// Key returns the composite identity of the record.
func (r Record) Key() string {
	return r.Type + "/" + r.ID
}

// Validate checks the record has a usable type and identity.
func (r Record) Validate() error {
	if !identRegex.MatchString(r.Type) {
		return fmt.Errorf("%w: bad record type %q", ErrInvalidRecord, r.Type)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty id for type %q", ErrInvalidRecord, r.Type)
	}
	return nil
}

// Association records that Child belongs to Parent under Relation,
// e.g. relation "guide_images": guide 123 -> image URL.
type Association struct {
	Relation string
	ParentID string
	ChildID  string
}

// Validate checks the association has a usable relation and both identities.
func (a Association) Validate() error {
	if !identRegex.MatchString(a.Relation) {
		return fmt.Errorf("%w: bad relation %q", ErrInvalidRecord, a.Relation)
	}
	if strings.TrimSpace(a.ParentID) == "" || strings.TrimSpace(a.ChildID) == "" {
		return fmt.Errorf("%w: empty identity in relation %q", ErrInvalidRecord, a.Relation)
	}
	return nil
}

// Asset is a binary file an extractor asks to have downloaded.
type Asset struct {
	// Origin is the host serving the asset, e.g. "steamuserimages-a.akamaihd.net".
	Origin string

	// Path is the origin-relative path of the asset.
	Path string

	// File is the destination path relative to the target's data directory.
	File string
}

// IsValidIdent reports whether s can be used as a record type or relation name.
func IsValidIdent(s string) bool {
	return identRegex.MatchString(s)
}
