// Package qerr defines the error taxonomy shared by every layer of the
// storage engine: corruption, not-found, range, locking, modified-under-
// reader, open/create failure, and unimplemented operations. Each kind is a
// sentinel that satisfies errors.Is, constructed through
// github.com/cockroachdb/errors so call sites keep stack traces without
// callers needing to change what they compare errors against.
package qerr

import (
	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Callers compare with errors.Is(err, qerr.NotFound), etc.
var (
	// Corrupt indicates on-disk data violates a format invariant: bad magic,
	// truncated tag, integer overflow while decoding, a broken chunk
	// invariant. Fatal to the current operation.
	Corrupt = errors.New("quartz: database corrupt")

	// NotFound indicates a document, value, term, or metadata key is absent.
	// Semantic and recoverable by the caller.
	NotFound = errors.New("quartz: not found")

	// Range indicates an encoded integer is too large for the target width,
	// or a position/docid is out of representable range.
	Range = errors.New("quartz: value out of range")

	// Locked indicates the database is already held by a writable handle.
	Locked = errors.New("quartz: database locked for writing")

	// Modified indicates a read-only handle's revision was superseded by a
	// later commit; the handle must be reopened.
	Modified = errors.New("quartz: database modified")

	// OpenFailed indicates the database directory is missing, unreadable,
	// or holds an incompatible format.
	OpenFailed = errors.New("quartz: cannot open database")

	// Unimplemented indicates an operation that is not meaningful for the
	// current backend or iterator kind (e.g. positions on an all-docs
	// postlist).
	Unimplemented = errors.New("quartz: unimplemented")
)

// Corruptf builds a Corrupt error with a redaction-safe formatted message.
func Corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(Corrupt, format, args...)
}

// NotFoundf builds a NotFound error with a redaction-safe formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(NotFound, format, args...)
}

// Rangef builds a Range error with a redaction-safe formatted message.
func Rangef(format string, args ...interface{}) error {
	return errors.Wrapf(Range, format, args...)
}

// Lockedf builds a Locked error with a redaction-safe formatted message.
func Lockedf(format string, args ...interface{}) error {
	return errors.Wrapf(Locked, format, args...)
}

// Modifiedf builds a Modified error with a redaction-safe formatted message.
func Modifiedf(format string, args ...interface{}) error {
	return errors.Wrapf(Modified, format, args...)
}

// OpenFailedf builds an OpenFailed error with a redaction-safe formatted
// message.
func OpenFailedf(format string, args ...interface{}) error {
	return errors.Wrapf(OpenFailed, format, args...)
}

// Unimplementedf builds an Unimplemented error with a redaction-safe
// formatted message.
func Unimplementedf(format string, args ...interface{}) error {
	return errors.Wrapf(Unimplemented, format, args...)
}

// Safe marks a value (typically a docid, term, or block number) as safe to
// include verbatim in redacted logs/error reports.
func Safe(v interface{}) interface{} {
	return errors.Safe(v)
}
