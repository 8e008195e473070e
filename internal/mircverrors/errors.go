// Package mircverrors holds the small set of typed/sentinel errors shared
// across the codec, disk-map, posting-list, and query packages.
package mircverrors

import "fmt"

type errorType string

func (e errorType) Error() string {
	return string(e)
}

const (
	// ErrInvalidOrder is returned by the disk-map writer when Add is called
	// with a key that does not strictly exceed the previous key.
	ErrInvalidOrder = errorType("disk-map: key does not strictly exceed previous key")

	// ErrKeyTooLong is returned by the disk-map writer when a key is >= 255 bytes.
	ErrKeyTooLong = errorType("disk-map: key too long")

	// ErrEmptyKey is returned by the disk-map writer when a key is empty.
	ErrEmptyKey = errorType("disk-map: empty key")

	// ErrDecodeOverrun is returned by a codec decoder when it runs past the
	// end iterator supplied at construction.
	ErrDecodeOverrun = errorType("codec: decode ran past end of stream")

	// ErrInvariantBroken is returned when a shard-local lexicon term is
	// absent from the global lexicon.
	ErrInvariantBroken = errorType("posting list: term present in local lexicon but absent from global lexicon")

	// ErrLexiconMiss is returned by the query engine when a term is absent
	// from a shard's local lexicon. It is recoverable: disjunctive queries
	// drop the term, conjunctive queries return an empty shard result.
	ErrLexiconMiss = errorType("query: term not present in shard lexicon")

	// ErrEmptyQuery is returned when a query tokenizes to zero terms. It is
	// recoverable: the caller should produce zero results.
	ErrEmptyQuery = errorType("query: no terms after tokenization")
)

// ErrKeyNotFound is returned by disk-map Get when the exact key is absent.
var ErrKeyNotFound = errorType("disk-map: key not found")

// WrongBitSize reports a fixed-point-factor or page-size mismatch between
// the value used when a file was written and the value the reader was
// opened with.
type WrongBitSize struct {
	Field string
	Got   uint64
	Want  uint64
}

func (e WrongBitSize) Error() string {
	return fmt.Sprintf("%s mismatch: file has %d, reader expects %d", e.Field, e.Got, e.Want)
}
