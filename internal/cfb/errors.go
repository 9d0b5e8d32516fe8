package cfb

import (
	"errors"
	"fmt"
)

// Sentinel errors for the structural failure classes. Callers match with
// errors.Is; the wrapped types below carry the forensic context.
var (
	ErrInvalidSignature   = errors.New("cfb: invalid compound file signature")
	ErrHeaderOutOfRange   = errors.New("cfb: header field out of range")
	ErrCorruptChain       = errors.New("cfb: corrupt sector chain")
	ErrMalformedDirectory = errors.New("cfb: malformed directory")
	ErrTruncatedStream    = errors.New("cfb: stream shorter than declared size")
	ErrTraversalLimit     = errors.New("cfb: traversal limit exceeded")
	ErrNotFound           = errors.New("cfb: no such stream or storage")
	ErrNotStream          = errors.New("cfb: entry is not a stream")
)

// HeaderError reports a header field that failed validation.
type HeaderError struct {
	Field string
	Value uint64
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("cfb: header field %s out of range (value %#x)", e.Field, e.Value)
}

func (e *HeaderError) Unwrap() error { return ErrHeaderOutOfRange }

// ChainError reports a broken FAT, MiniFAT or DIFAT chain. Start is the
// first sector of the chain being walked, Sector the one that broke it.
type ChainError struct {
	Table  string // "fat", "minifat" or "difat"
	Start  SectorID
	Sector SectorID
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("cfb: corrupt %s chain starting at sector %d: %s (sector %d)",
		e.Table, e.Start, e.Reason, e.Sector)
}

func (e *ChainError) Unwrap() error { return ErrCorruptChain }

// LimitError reports that a traversal exceeded a configured ceiling.
type LimitError struct {
	What  string
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("cfb: %s traversal exceeded limit of %d", e.What, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrTraversalLimit }

// DirectoryError reports a structural problem in the directory tree.
// Entry is the stream ID of the offending entry, or -1 when unknown.
type DirectoryError struct {
	Entry  int
	Reason string
}

func (e *DirectoryError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("cfb: malformed directory: %s", e.Reason)
	}
	return fmt.Sprintf("cfb: malformed directory: %s (entry %d)", e.Reason, e.Entry)
}

func (e *DirectoryError) Unwrap() error { return ErrMalformedDirectory }

// TruncatedStreamError reports a stream whose chain resolves to fewer
// bytes than its directory entry declares.
type TruncatedStreamError struct {
	Entry    int
	Name     string
	Declared uint64
	Actual   uint64
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("cfb: stream %q (entry %d) declares %d bytes but chain holds %d",
		e.Name, e.Entry, e.Declared, e.Actual)
}

func (e *TruncatedStreamError) Unwrap() error { return ErrTruncatedStream }
