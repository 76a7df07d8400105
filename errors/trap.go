package errors

import (
	"fmt"
	"strings"
)

// TrapReason is a machine-readable classification of a runtime fault
type TrapReason string

const (
	TrapIntegerDivideByZero       TrapReason = "integer_divide_by_zero"
	TrapIntegerOverflow           TrapReason = "integer_overflow"
	TrapInvalidConversion         TrapReason = "invalid_conversion_to_integer"
	TrapUnreachable               TrapReason = "unreachable"
	TrapOutOfBoundsMemoryAccess   TrapReason = "out_of_bounds_memory_access"
	TrapInvalidTableAccess        TrapReason = "invalid_table_access"
	TrapIndirectCallTypeMismatch  TrapReason = "indirect_call_type_mismatch"
	TrapStackOverflow             TrapReason = "stack_overflow"
	TrapDeadlineExceeded          TrapReason = "deadline_exceeded"
	TrapCanceled                  TrapReason = "canceled"
	TrapExit                      TrapReason = "exit"
	TrapHost                      TrapReason = "host"
	TrapUnknown                   TrapReason = "unknown"
)

// TrapError is a fault raised while WebAssembly code was executing, either
// during a call or in the start function.
type TrapError struct {
	Cause    error
	Reason   TrapReason
	Phase    Phase
	Func     string
	Message  string
	ExitCode uint32
}

// Trap creates a trap error raised by a host function. Host code panics with
// the result to abort the running guest.
func Trap(reason TrapReason, format string, args ...any) *TrapError {
	return &TrapError{
		Reason:  reason,
		Phase:   PhaseHost,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *TrapError) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] trap ")
	b.WriteString(string(e.Reason))
	if e.Func != "" {
		b.WriteString(" in ")
		b.WriteString(e.Func)
	}
	if e.Reason == TrapExit {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TrapError) Unwrap() error {
	return e.Cause
}

// Is matches ErrTrap and any *Error sentinel whose Kind is trap.
func (e *TrapError) Is(target error) bool {
	switch t := target.(type) {
	case *TrapError:
		return t.Reason == "" || t.Reason == e.Reason
	case *Error:
		return t.Kind == KindTrap && (t.Phase == "" || t.Phase == e.Phase)
	}
	return false
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "get_vec"
	Kind   string // func, memory, global or table
}

// MissingImportsError lists every import the supplied mapping could not satisfy.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#name" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module: mod,
			Name:   name,
			Kind:   "func",
		})
	}
	return result
}

func parseImportKey(key string) (module, name string) {
	mod, fn, found := strings.Cut(key, "#")
	if found {
		return mod, fn
	}
	return key, ""
}

// demangleRust attempts to extract readable function name from mangled Rust symbol
func demangleRust(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}

	// _ZN<len><name><len><name>...E
	s := name[3:]
	var parts []string

	for len(s) > 0 && s[0] != 'E' {
		lenEnd := 0
		for lenEnd < len(s) && s[lenEnd] >= '0' && s[lenEnd] <= '9' {
			lenEnd++
		}
		if lenEnd == 0 {
			break
		}

		length := 0
		for i := 0; i < lenEnd; i++ {
			length = length*10 + int(s[i]-'0')
		}
		s = s[lenEnd:]

		if length > len(s) {
			break
		}

		part := s[:length]
		s = s[length:]

		if isRustHash(part) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return name
	}

	return strings.Join(parts, "::")
}

// 17 chars, 'h' followed by 16 hex digits
func isRustHash(part string) bool {
	if len(part) != 17 || part[0] != 'h' {
		return false
	}
	for i := 1; i < 17; i++ {
		c := part[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[instantiate] missing_import: %d unresolved import(s):\n", len(e.Imports))

	byModule := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byModule[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		entry := demangleRust(imp.Name)
		if imp.Kind != "" && imp.Kind != "func" {
			entry += " (" + imp.Kind + ")"
		}
		byModule[imp.Module] = append(byModule[imp.Module], entry)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, name := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is matches other MissingImportsErrors and the instantiation sentinels.
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return (t.Phase == "" || t.Phase == PhaseInstantiate) &&
			(t.Kind == "" || t.Kind == KindMissingImport) &&
			(t.Phase != "" || t.Kind != "")
	}
	return false
}
