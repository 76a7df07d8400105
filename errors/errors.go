package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which stage of the pipeline the error occurred in
type Phase string

const (
	PhaseLoad        Phase = "load"        // read, decode, compile
	PhaseInstantiate Phase = "instantiate" // import binding, start function
	PhaseResolve     Phase = "resolve"     // export lookup
	PhaseInvoke      Phase = "invoke"      // argument checks, execution
	PhaseHost        Phase = "host"        // host function registration
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseParse       Phase = "parse"       // WIT/value parsing
	PhaseExecute     Phase = "execute"     // code directory executor
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindIO               Kind = "io"
	KindMalformed        Kind = "malformed"
	KindValidation       Kind = "validation"
	KindMissingImport    Kind = "missing_import"
	KindTypeMismatch     Kind = "type_mismatch"
	KindKindMismatch     Kind = "kind_mismatch"
	KindArgumentMismatch Kind = "argument_mismatch"
	KindLimit            Kind = "limit"
	KindTrap             Kind = "trap"
	KindInstantiation    Kind = "instantiation"
	KindClosed           Kind = "closed"
	KindInvalidInput     Kind = "invalid_input"
	KindRegistration     Kind = "registration"
	KindOutOfBounds      Kind = "out_of_bounds"
)

// Stage sentinels for errors.Is. A sentinel without a Kind matches every
// error of its phase.
var (
	ErrLoad               = &Error{Phase: PhaseLoad}
	ErrInstantiation      = &Error{Phase: PhaseInstantiate}
	ErrExportNotFound     = &Error{Phase: PhaseResolve, Kind: KindNotFound}
	ErrExportKindMismatch = &Error{Phase: PhaseResolve, Kind: KindKindMismatch}
	ErrArgumentMismatch   = &Error{Phase: PhaseInvoke, Kind: KindArgumentMismatch}
	ErrTrap               = &Error{Kind: KindTrap}
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
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

// Is reports whether target matches this error. Empty fields on the target
// act as wildcards.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Phase != "" || t.Kind != ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path of names leading to the failure (module, field, ...)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(kind Kind, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(kind Kind, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ExportNotFound reports a lookup of an export the module does not declare
func ExportNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// ExportKindMismatch reports an export resolved as the wrong kind
func ExportKindMismatch(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindKindMismatch,
		Path:   []string{name},
		Detail: fmt.Sprintf("export %q is a %s, not a %s", name, got, want),
	}
}

// ArgumentMismatch reports arguments that do not fit a function signature
func ArgumentMismatch(fn string, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindArgumentMismatch,
		Path:   []string{fn},
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed reports use of a released handle
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Registration creates a registration error
func Registration(module, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Path:   []string{module, name},
		Detail: fmt.Sprintf("register %s.%s", module, name),
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindMalformed,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// StageOf returns the phase of the first structured error in err's chain.
func StageOf(err error) Phase {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Phase
		case *TrapError:
			return e.Phase
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
