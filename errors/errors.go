package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // binary decoding
	PhaseValidate    Phase = "validate"    // static module validation
	PhaseInstantiate Phase = "instantiate" // import binding and allocation
	PhaseCall        Phase = "call"        // function dispatch
	PhaseStore       Phase = "store"       // instance registry operations
	PhaseHost        Phase = "host"        // host function and builder operations
	PhaseEngine      Phase = "engine"      // execution engine operations
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedBinary     Kind = "malformed_binary"
	KindTypeMismatch        Kind = "type_mismatch"
	KindInvalidLimits       Kind = "invalid_limits"
	KindUnknownIndex        Kind = "unknown_index"
	KindUnresolvedImport    Kind = "unresolved_import"
	KindImportTypeMismatch  Kind = "import_type_mismatch"
	KindStartTrap           Kind = "start_trap"
	KindArityOrTypeMismatch Kind = "arity_or_type_mismatch"
	KindHostError           Kind = "host_error"
	KindTrap                Kind = "trap"
	KindNameCollision       Kind = "name_collision"
	KindNotFound            Kind = "not_found"
	KindKindMismatch        Kind = "kind_mismatch"
	KindDuplicateExport     Kind = "duplicate_export"
	KindUnsupported         Kind = "unsupported"
	KindInvalidInput        Kind = "invalid_input"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by phase and kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates a structured error with a formatted detail message
func New(phase Phase, kind Kind, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap wraps an existing error with phase, kind, and context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Convenience constructors for common error patterns

// MalformedBinary creates a load error carrying a byte offset when known
func MalformedBinary(offset int, detail string) *Error {
	if offset >= 0 {
		detail = fmt.Sprintf("%s (at byte offset %d)", detail, offset)
	}
	return &Error{Phase: PhaseLoad, Kind: KindMalformedBinary, Detail: detail}
}

// TypeMismatch creates a validation type error naming the offending construct
func TypeMismatch(path []string, detail string) *Error {
	return &Error{Phase: PhaseValidate, Kind: KindTypeMismatch, Path: path, Detail: detail}
}

// InvalidLimits creates a limits consistency error
func InvalidLimits(path []string, detail string) *Error {
	return &Error{Phase: PhaseValidate, Kind: KindInvalidLimits, Path: path, Detail: detail}
}

// UnknownIndex creates an out-of-range index error
func UnknownIndex(path []string, index, max uint32) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindUnknownIndex,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of range (have %d)", index, max),
	}
}

// UnresolvedImport names an import no resolver could satisfy
func UnresolvedImport(module, name string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindUnresolvedImport,
		Detail: fmt.Sprintf("import %q.%q not resolved", module, name),
	}
}

// ImportTypeMismatch reports a resolved import of the wrong kind or type
func ImportTypeMismatch(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindImportTypeMismatch,
		Detail: fmt.Sprintf("import %q.%q: %s", module, name, detail),
	}
}

// StartTrap wraps a trap raised by the start routine during instantiation
func StartTrap(cause error) *Error {
	return &Error{Phase: PhaseInstantiate, Kind: KindStartTrap, Detail: "start function trapped", Cause: cause}
}

// ArityOrTypeMismatch reports call arguments that do not match the signature
func ArityOrTypeMismatch(detail string, args ...any) *Error {
	return New(PhaseCall, KindArityOrTypeMismatch, detail, args...)
}

// Trap wraps a guest-side execution fault; non-fatal to the runtime
func Trap(cause error) *Error {
	return &Error{Phase: PhaseCall, Kind: KindTrap, Detail: "wasm trap", Cause: cause}
}

// NameCollision reports a duplicate registration name
func NameCollision(name string) *Error {
	return &Error{Phase: PhaseStore, Kind: KindNameCollision, Detail: fmt.Sprintf("module %q already registered", name)}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: fmt.Sprintf("%s %q not found", what, name)}
}

// KindMismatch reports an export requested as the wrong kind
func KindMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindKindMismatch,
		Detail: fmt.Sprintf("export %q is a %s, requested as %s", name, got, want),
	}
}

// DuplicateExport reports a name reused within one import builder
func DuplicateExport(name string) *Error {
	return &Error{Phase: PhaseHost, Kind: KindDuplicateExport, Detail: fmt.Sprintf("export name %q already used", name)}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupported, Detail: what}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidInput, Detail: detail}
}

// HostError carries an opaque failure code chosen by a host function.
// The runtime assigns no meaning to the code beyond "call failed".
type HostError struct {
	Code uint8
}

func (e *HostError) Error() string {
	return fmt.Sprintf("[host] host_error: code %d", e.Code)
}

// Is reports whether target is a HostError with the same code
func (e *HostError) Is(target error) bool {
	t, ok := target.(*HostError)
	return ok && t.Code == e.Code
}
