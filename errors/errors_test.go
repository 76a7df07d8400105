package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindTypeMismatch,
				Path:   []string{"env", "get_vec"},
				Detail: "want func(i32, i32) -> i32",
			},
			contains: []string{"[instantiate]", "type_mismatch", "env.get_vec", "want func"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLoad,
				Kind:  KindMalformed,
			},
			contains: []string{"[load]", "malformed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindIO,
				Detail: "read div.wasm",
				Cause:  errors.New("permission denied"),
			},
			contains: []string{"[load]", "io", "read div.wasm", "caused by", "permission denied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindIO,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseResolve,
		Kind:  KindNotFound,
		Path:  []string{"missing"},
	}

	if !err.Is(&Error{Phase: PhaseResolve, Kind: KindNotFound}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseLoad, Kind: KindNotFound}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseResolve, Kind: KindKindMismatch}) {
		t.Error("Is should not match different kind")
	}
	if err.Is(&Error{}) {
		t.Error("empty target should match nothing")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrExportNotFound) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		match    error
		mismatch []error
	}{
		{
			name:     "load malformed",
			err:      Load(KindMalformed, "decode", nil),
			match:    ErrLoad,
			mismatch: []error{ErrInstantiation, ErrTrap, ErrExportNotFound},
		},
		{
			name:     "load not found",
			err:      Load(KindNotFound, "open", nil),
			match:    ErrLoad,
			mismatch: []error{ErrExportNotFound},
		},
		{
			name:     "instantiation limit",
			err:      Instantiation(KindLimit, "memory", nil),
			match:    ErrInstantiation,
			mismatch: []error{ErrLoad, ErrTrap},
		},
		{
			name:     "export not found",
			err:      ExportNotFound("missing"),
			match:    ErrExportNotFound,
			mismatch: []error{ErrExportKindMismatch, ErrLoad},
		},
		{
			name:     "kind mismatch",
			err:      ExportKindMismatch("memory", "func", "memory"),
			match:    ErrExportKindMismatch,
			mismatch: []error{ErrExportNotFound},
		},
		{
			name:     "argument mismatch",
			err:      ArgumentMismatch("div", "want %d args, got %d", 2, 1),
			match:    ErrArgumentMismatch,
			mismatch: []error{ErrTrap},
		},
		{
			name:     "call trap",
			err:      &TrapError{Phase: PhaseInvoke, Reason: TrapIntegerDivideByZero},
			match:    ErrTrap,
			mismatch: []error{ErrInstantiation, ErrArgumentMismatch},
		},
		{
			name:     "start trap",
			err:      Instantiation(KindTrap, "start", &TrapError{Phase: PhaseInstantiate, Reason: TrapUnreachable}),
			match:    ErrInstantiation,
			mismatch: []error{ErrLoad},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.match) {
				t.Errorf("%v should match %v", tt.err, tt.match)
			}
			for _, m := range tt.mismatch {
				if errors.Is(tt.err, m) {
					t.Errorf("%v should not match %v", tt.err, m)
				}
			}
		})
	}
}

func TestStartTrapIsTrap(t *testing.T) {
	err := Instantiation(KindTrap, "start function", &TrapError{Phase: PhaseInstantiate, Reason: TrapUnreachable})
	if !errors.Is(err, ErrTrap) {
		t.Fatal("start trap should match ErrTrap")
	}
	var trap *TrapError
	if !errors.As(err, &trap) {
		t.Fatal("errors.As should find TrapError")
	}
	if trap.Reason != TrapUnreachable {
		t.Errorf("Reason = %v, want unreachable", trap.Reason)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseInstantiate, KindTypeMismatch).
		Path("env", "get").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "func", "memory").
		Build()

	if err.Phase != PhaseInstantiate {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseInstantiate)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "env" || err.Path[1] != "get" {
		t.Errorf("Path = %v, want [env get]", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected func, got memory" {
		t.Errorf("Detail = %v, want 'expected func, got memory'", err.Detail)
	}
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		err  error
		want Phase
	}{
		{Load(KindMalformed, "x", nil), PhaseLoad},
		{fmt.Errorf("ctx: %w", ExportNotFound("f")), PhaseResolve},
		{&TrapError{Phase: PhaseInvoke}, PhaseInvoke},
		{errors.New("plain"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := StageOf(tt.err); got != tt.want {
			t.Errorf("StageOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTrapError(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		err := &TrapError{Phase: PhaseInvoke, Reason: TrapIntegerDivideByZero, Func: "div"}
		msg := err.Error()
		for _, s := range []string{"[invoke]", "integer_divide_by_zero", "div"} {
			if !strings.Contains(msg, s) {
				t.Errorf("%q does not contain %q", msg, s)
			}
		}
	})

	t.Run("exit code", func(t *testing.T) {
		err := &TrapError{Phase: PhaseInvoke, Reason: TrapExit, ExitCode: 3}
		if !strings.Contains(err.Error(), "exit code 3") {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("reason match", func(t *testing.T) {
		err := &TrapError{Phase: PhaseInvoke, Reason: TrapUnreachable}
		if !errors.Is(err, &TrapError{Reason: TrapUnreachable}) {
			t.Error("same reason should match")
		}
		if errors.Is(err, &TrapError{Reason: TrapStackOverflow}) {
			t.Error("different reason should not match")
		}
		if !errors.Is(err, &TrapError{}) {
			t.Error("empty reason should match any trap")
		}
	})

	t.Run("host trap", func(t *testing.T) {
		err := Trap(TrapHost, "vector of %d bytes exceeds %d", 10, 4)
		if err.Phase != PhaseHost || err.Message != "vector of 10 bytes exceeds 4" {
			t.Errorf("unexpected trap %+v", err)
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"env#get"})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Module != "env" {
			t.Errorf("module = %q, want env", err.Imports[0].Module)
		}
		if err.Imports[0].Name != "get" {
			t.Errorf("name = %q, want get", err.Imports[0].Name)
		}
	})

	t.Run("grouped by module", func(t *testing.T) {
		err := &MissingImportsError{Imports: []MissingImport{
			{Module: "env", Name: "get", Kind: "func"},
			{Module: "wasi_snapshot_preview1", Name: "fd_write", Kind: "func"},
			{Module: "env", Name: "memory", Kind: "memory"},
		}}
		msg := err.Error()
		for _, s := range []string{"3 unresolved", "env:", "wasi_snapshot_preview1:", "- get", "memory (memory)"} {
			if !strings.Contains(msg, s) {
				t.Errorf("%q does not contain %q", msg, s)
			}
		}
		if strings.Count(msg, "env:") != 1 {
			t.Errorf("module should be listed once: %s", msg)
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError([]string{})
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingImportsError([]string{"ns#fn"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
		if !errors.Is(err, ErrInstantiation) {
			t.Error("missing imports should be an instantiation error")
		}
		if errors.Is(err, ErrLoad) {
			t.Error("missing imports should not be a load error")
		}
	})
}

func TestDemangleRust(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "get_vec",
			expected: "get_vec",
		},
		{
			input:    "_ZN8executor3env7get_vec17ha931456e169eb010E",
			expected: "executor::env::get_vec",
		},
		{
			input:    "_ZN4core3ptr8write_fn17ha1b2c3d4e5f67890E",
			expected: "core::ptr::write_fn",
		},
	}

	for _, tt := range tests {
		name := tt.input
		if len(name) > 30 {
			name = name[:30]
		}
		t.Run(name, func(t *testing.T) {
			result := demangleRust(tt.input)
			if result != tt.expected {
				t.Errorf("demangleRust(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
