package runtime

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-executor/engine"
	"github.com/wippyai/wasm-executor/errors"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when the
// automatic PascalCase-to-snake_case conversion doesn't apply, or to expose
// only some of their methods.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry collects host imports. Registering a name twice replaces the
// earlier definition. Safe for concurrent use.
type HostRegistry struct {
	imports *engine.Imports
	mu      sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{imports: engine.NewImports()}
}

// RegisterHost registers every exported method of h, or the functions
// returned by Register when h implements ExplicitRegistrar.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	batch := engine.NewImports()

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if err := batch.Func(ns, name, handler); err != nil {
				return err
			}
		}
		r.merge(batch)
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := batch.Func(ns, toSnakeCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}

	r.merge(batch)
	return nil
}

// RegisterFunc registers a typed Go function. See engine.Imports.Func for
// the accepted signatures.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if err := checkNames(namespace, name); err != nil {
		return err
	}
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(namespace, name).
			Value(fn).
			Detail("handler must be a function").
			Build()
	}
	return r.register(func(im *engine.Imports) error {
		return im.Func(namespace, name, fn)
	})
}

// RegisterRawFunc registers a function operating on the raw value stack.
func (r *HostRegistry) RegisterRawFunc(namespace, name string, params, results []api.ValueType, fn api.GoModuleFunc) error {
	if err := checkNames(namespace, name); err != nil {
		return err
	}
	return r.register(func(im *engine.Imports) error {
		return im.RawFunc(namespace, name, params, results, fn)
	})
}

// RegisterMemory provides a memory import. Every instance gets its own.
func (r *HostRegistry) RegisterMemory(namespace, name string, mem engine.HostMemory) error {
	if err := checkNames(namespace, name); err != nil {
		return err
	}
	return r.register(func(im *engine.Imports) error {
		return im.Memory(namespace, name, mem)
	})
}

// RegisterGlobal provides a global import. Every instance gets its own.
func (r *HostRegistry) RegisterGlobal(namespace, name string, g engine.HostGlobal) error {
	if err := checkNames(namespace, name); err != nil {
		return err
	}
	return r.register(func(im *engine.Imports) error {
		return im.Global(namespace, name, g)
	})
}

// RegisterTable provides a funcref table import. Every instance gets its own.
func (r *HostRegistry) RegisterTable(namespace, name string, t engine.HostTable) error {
	if err := checkNames(namespace, name); err != nil {
		return err
	}
	return r.register(func(im *engine.Imports) error {
		return im.Table(namespace, name, t)
	})
}

// Imports returns a snapshot of the registered imports.
func (r *HostRegistry) Imports() *engine.Imports {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imports.Overlay(nil)
}

// Namespaces returns the registered import module names, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imports.Modules()
}

func (r *HostRegistry) register(add func(*engine.Imports) error) error {
	batch := engine.NewImports()
	if err := add(batch); err != nil {
		return err
	}
	r.merge(batch)
	return nil
}

func (r *HostRegistry) merge(batch *engine.Imports) {
	r.mu.Lock()
	r.imports = r.imports.Overlay(batch)
	r.mu.Unlock()
}

func checkNames(namespace, name string) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("function name cannot be empty in %s", namespace))
	}
	return nil
}

// toSnakeCase converts PascalCase to snake_case.
// Acronyms stay together: GetHTTPServer -> get_http_server.
// Adjacent acronyms cannot be split, so GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
