// Package errors provides structured error types for the runtime.
//
// Every failure crossing the embedding boundary is an *Error carrying a
// Phase (where it happened) and a Kind (what went wrong), so callers can
// match with errors.Is on the taxonomy instead of string comparison:
//
//	if errors.Is(err, &Error{Phase: PhaseStore, Kind: KindNameCollision}) {
//	    ...
//	}
//
// HostError is the one exception: it carries an opaque code chosen by a
// host function and passed through unchanged.
package errors
