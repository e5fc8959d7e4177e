package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by Model operations.
var (
	ErrInvalidRow        = errors.New("invalid row index")
	ErrInvalidAttribute  = errors.New("invalid attribute")
	ErrReadOnlyAttribute = errors.New("attribute is read-only")
	ErrRowRemoved        = errors.New("row is marked for removal")
)

// FetchError is a non-fatal failure to decode one cell of a fetched row.
// The cell's value becomes Undefined and the fetch continues.
type FetchError struct {
	Attribute *AttributeBinding
	// Row is the offset of the failing row within its page.
	Row int
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("decoding %s (row %d): %s", e.Attribute, e.Row, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Cause() error  { return e.Err }

// MetadataDiscoveryError is a failure to describe an Entity. The Entity is
// left without a RowIdentifier, and its attributes cannot be edited.
type MetadataDiscoveryError struct {
	Entity EntityName
	Err    error
}

func (e *MetadataDiscoveryError) Error() string {
	return fmt.Sprintf("discovering metadata of %s: %s", e.Entity, e.Err)
}

func (e *MetadataDiscoveryError) Unwrap() error { return e.Err }
func (e *MetadataDiscoveryError) Cause() error  { return e.Err }

// IdentifierAmbiguityError is returned when pending changes cannot be
// persisted because the Entity has no usable unique key. No statement has
// been executed when it's returned. Callers may remedy by defining a
// virtual identifier, or by using all columns as the key.
type IdentifierAmbiguityError struct {
	Entity EntityName
	// Identifier is the unusable identifier, if one was resolved.
	Identifier *RowIdentifier
}

func (e *IdentifierAmbiguityError) Error() string {
	if e.Identifier == nil {
		return fmt.Sprintf("no unique key of %s is available", e.Entity)
	} else if len(e.Identifier.Missing) != 0 {
		return fmt.Sprintf("unique key %s of %s is not fully fetched (missing %v)",
			e.Identifier.Name, e.Entity, e.Identifier.Missing)
	}
	return fmt.Sprintf("%s identifier of %s has no key attributes", e.Identifier.Kind, e.Entity)
}

// StatementExecutionError is a failure of a single write statement. It
// aborts the remaining statements of its commit run.
type StatementExecutionError struct {
	// Statement is a description of the failed statement.
	Statement string
	Err       error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Statement, e.Err)
}

func (e *StatementExecutionError) Unwrap() error { return e.Err }
func (e *StatementExecutionError) Cause() error  { return e.Err }
