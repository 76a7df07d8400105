package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	wasmexec "github.com/wippyai/wasm-executor"
	"github.com/wippyai/wasm-executor/errors"
)

// Hints carries WIT signatures for core exports. Core modules only declare
// i32/i64/f32/f64; a hint says whether an i32 is s32, u32, bool or char, so
// arguments parse and results print the way the guest means them.
type Hints struct {
	funcs map[string]*funcHint
}

type funcHint struct {
	params      []wit.Type
	results     []wit.Type
	paramNames  []string
	paramText   []string
	resultsText []string
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;\n]+))?`)

// ParseHints extracts function signatures from WIT text.
// Pattern: [export] name: func(params) -> result;
func ParseHints(witText string) (*Hints, error) {
	h := &Hints{funcs: make(map[string]*funcHint)}

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := strings.TrimSpace(match[3])

		fh := &funcHint{}

		for _, p := range splitParams(paramsStr) {
			pname, typStr := "", p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				pname = strings.TrimSpace(p[:idx])
				typStr = strings.TrimSpace(p[idx+1:])
			}
			t, err := parseHintType(typStr)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseParse, errors.KindMalformed, err, "parse param type "+typStr)
			}
			fh.params = append(fh.params, t)
			fh.paramNames = append(fh.paramNames, pname)
			fh.paramText = append(fh.paramText, typStr)
		}

		if resultStr != "" && resultStr != "()" {
			parts := []string{resultStr}
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				parts = splitParams(strings.TrimSuffix(strings.TrimPrefix(resultStr, "("), ")"))
			}
			for _, part := range parts {
				typStr := part
				if idx := strings.LastIndex(part, ":"); idx != -1 {
					typStr = strings.TrimSpace(part[idx+1:])
				}
				t, err := parseHintType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseParse, errors.KindMalformed, err, "parse result type "+typStr)
				}
				fh.results = append(fh.results, t)
				fh.resultsText = append(fh.resultsText, typStr)
			}
		}

		h.funcs[name] = fh
	}

	if len(h.funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return h, nil
}

// splitParams splits parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func parseHintType(s string) (wit.Type, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if _, ok := coreType(t); !ok {
		return nil, fmt.Errorf("%s has no scalar core representation", s)
	}
	return t, nil
}

// coreType maps a scalar WIT type to its core WebAssembly type.
func coreType(t wit.Type) (wasmexec.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return wasmexec.ValueTypeI32, true
	case wit.S64, wit.U64:
		return wasmexec.ValueTypeI64, true
	case wit.F32:
		return wasmexec.ValueTypeF32, true
	case wit.F64:
		return wasmexec.ValueTypeF64, true
	}
	return 0, false
}

// Names returns the hinted function names.
func (h *Hints) Names() []string {
	if h == nil {
		return nil
	}
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	return names
}

// Lookup returns the hinted WIT types of a function.
func (h *Hints) Lookup(name string) (params, results []wit.Type, ok bool) {
	if h == nil {
		return nil, nil, false
	}
	fh, ok := h.funcs[name]
	if !ok {
		return nil, nil, false
	}
	return fh.params, fh.results, true
}

func (h *Hints) paramNames(name string) []string {
	if h == nil {
		return nil
	}
	if fh, ok := h.funcs[name]; ok {
		return fh.paramNames
	}
	return nil
}

// argLabel names argument i, with its WIT parameter name when known.
func argLabel(i int, names []string) string {
	if i < len(names) && names[i] != "" {
		return fmt.Sprintf("argument %d (%s)", i, names[i])
	}
	return fmt.Sprintf("argument %d", i)
}

// Check verifies that the hint for name lowers to sig. A missing hint is
// not an error.
func (h *Hints) Check(name string, sig wasmexec.Signature) error {
	if h == nil {
		return nil
	}
	fh, ok := h.funcs[name]
	if !ok {
		return nil
	}
	if !lowersTo(fh.params, sig.Params) || !lowersTo(fh.results, sig.Results) {
		return errors.New(errors.PhaseParse, errors.KindTypeMismatch).
			Path(name).
			Detail("hint func(%s) -> (%s) does not match %s",
				strings.Join(fh.paramText, ", "), strings.Join(fh.resultsText, ", "), sig).
			Build()
	}
	return nil
}

func lowersTo(types []wit.Type, core []wasmexec.ValueType) bool {
	if len(types) != len(core) {
		return false
	}
	for i, t := range types {
		if ct, _ := coreType(t); ct != core[i] {
			return false
		}
	}
	return true
}

// ParseArg parses a literal as a scalar WIT type.
func ParseArg(t wit.Type, lit string) (wasmexec.Value, error) {
	lit = strings.TrimSpace(lit)
	switch t.(type) {
	case wit.Bool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return wasmexec.Value{}, err
		}
		if b {
			return wasmexec.I32(1), nil
		}
		return wasmexec.I32(0), nil
	case wit.S8:
		return parseSigned(lit, 8)
	case wit.S16:
		return parseSigned(lit, 16)
	case wit.S32:
		return parseSigned(lit, 32)
	case wit.U8:
		return parseUnsigned(lit, 8)
	case wit.U16:
		return parseUnsigned(lit, 16)
	case wit.U32:
		return parseUnsigned(lit, 32)
	case wit.S64:
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return wasmexec.Value{}, err
		}
		return wasmexec.I64(n), nil
	case wit.U64:
		n, err := strconv.ParseUint(lit, 0, 64)
		if err != nil {
			return wasmexec.Value{}, err
		}
		return wasmexec.U64(n), nil
	case wit.Char:
		if utf8.RuneCountInString(lit) == 1 {
			r, _ := utf8.DecodeRuneInString(lit)
			return wasmexec.U32(uint32(r)), nil
		}
		return parseUnsigned(lit, 32)
	case wit.F32:
		return wasmexec.ParseValueAs(wasmexec.ValueTypeF32, lit)
	case wit.F64:
		return wasmexec.ParseValueAs(wasmexec.ValueTypeF64, lit)
	}
	return wasmexec.Value{}, fmt.Errorf("unsupported WIT type %T", t)
}

func parseSigned(lit string, bits int) (wasmexec.Value, error) {
	n, err := strconv.ParseInt(lit, 0, bits)
	if err != nil {
		return wasmexec.Value{}, err
	}
	return wasmexec.I32(int32(n)), nil
}

func parseUnsigned(lit string, bits int) (wasmexec.Value, error) {
	n, err := strconv.ParseUint(lit, 0, bits)
	if err != nil {
		return wasmexec.Value{}, err
	}
	return wasmexec.U32(uint32(n)), nil
}

// FormatValue renders v as the WIT type t.
func FormatValue(t wit.Type, v wasmexec.Value) string {
	switch t.(type) {
	case wit.Bool:
		return strconv.FormatBool(v.Uint32() != 0)
	case wit.S8:
		return strconv.FormatInt(int64(int8(v.Int32())), 10)
	case wit.S16:
		return strconv.FormatInt(int64(int16(v.Int32())), 10)
	case wit.S32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case wit.U8:
		return strconv.FormatUint(uint64(uint8(v.Uint32())), 10)
	case wit.U16:
		return strconv.FormatUint(uint64(uint16(v.Uint32())), 10)
	case wit.U32:
		return strconv.FormatUint(uint64(v.Uint32()), 10)
	case wit.S64:
		return strconv.FormatInt(v.Int64(), 10)
	case wit.U64:
		return strconv.FormatUint(v.Uint64(), 10)
	case wit.Char:
		return strconv.QuoteRune(rune(v.Uint32()))
	case wit.F32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case wit.F64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	}
	return v.String()
}

// ParseArgs parses command-line literals into arguments for f. A literal in
// the typed form "i32:10" is taken as is; otherwise the WIT hint for f, if
// any, decides, and finally the core parameter type.
func (f *Func) ParseArgs(h *Hints, lits ...string) ([]wasmexec.Value, error) {
	if len(lits) != len(f.sig.Params) {
		return nil, errors.ArgumentMismatch(f.name, "expected %d argument(s) for %s, got %d",
			len(f.sig.Params), f.sig, len(lits))
	}
	if err := h.Check(f.name, f.sig); err != nil {
		return nil, err
	}
	params, _, hinted := h.Lookup(f.name)
	names := h.paramNames(f.name)

	args := make([]wasmexec.Value, len(lits))
	for i, lit := range lits {
		var (
			v   wasmexec.Value
			err error
		)
		switch {
		case isTyped(lit):
			v, err = wasmexec.ParseValue(lit)
		case hinted:
			v, err = ParseArg(params[i], lit)
		default:
			v, err = wasmexec.ParseValueAs(f.sig.Params[i], lit)
		}
		if err != nil {
			return nil, errors.New(errors.PhaseParse, errors.KindInvalidInput).
				Path(f.name).
				Value(lit).
				Detail("%s", argLabel(i, names)).
				Cause(err).
				Build()
		}
		args[i] = v
	}
	return args, nil
}

// FormatResults renders results using the WIT hint for f when present.
func (f *Func) FormatResults(h *Hints, results []wasmexec.Value) []string {
	_, types, hinted := h.Lookup(f.name)
	out := make([]string, len(results))
	for i, v := range results {
		if hinted && i < len(types) {
			out[i] = FormatValue(types[i], v)
			continue
		}
		out[i] = v.String()
	}
	return out
}

func isTyped(lit string) bool {
	prefix, _, ok := strings.Cut(lit, ":")
	if !ok {
		return false
	}
	_, err := wasmexec.ParseValueType(prefix)
	return err == nil
}
