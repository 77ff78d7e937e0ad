package executor

import (
	"context"
	"fmt"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/store"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// ResolvedImport pairs one import declaration of a module with the
// extern chosen to satisfy it, in declaration order.
type ResolvedImport struct {
	Module string
	Name   string
	Extern instance.Extern
}

// Engine materializes executable state for a validated module whose
// imports have been resolved and type checked. Instantiation is
// all-or-nothing: on error, including a trapping start routine, no
// instance state survives. Guest function exports implement
// instance.Code.
type Engine interface {
	Instantiate(ctx context.Context, mod *wasm.Module, imports []ResolvedImport, name string) (*instance.Module, error)
}

// Resolver answers import lookups during instantiation.
type Resolver func(module, name string) (instance.Extern, bool)

// StoreResolver resolves imports against the instances registered in
// s: the import's module name selects a registered instance, the
// import name one of its exports.
func StoreResolver(s *store.Store) Resolver {
	return func(module, name string) (instance.Extern, bool) {
		inst, err := s.LookupNamed(module)
		if err != nil {
			return instance.Extern{}, false
		}
		return inst.Export(name)
	}
}

// Executor drives instantiation and invocation. It owns no instances
// and holds no locks; all state lives in the engine and the store.
type Executor struct {
	engine Engine
}

// New creates an executor over the given engine.
func New(engine Engine) *Executor {
	return &Executor{engine: engine}
}

// Instantiate resolves mod's imports through resolve, type checks
// every resolution, and delegates allocation and the start routine to
// the engine. The returned instance carries name; registering it in a
// store is the caller's decision.
func (e *Executor) Instantiate(ctx context.Context, mod *wasm.Module, resolve Resolver, name string) (*instance.Module, error) {
	if mod == nil {
		return nil, errs.InvalidInput(errs.PhaseInstantiate, "module is nil")
	}

	resolved := make([]ResolvedImport, 0, len(mod.Imports))
	for _, imp := range mod.Imports {
		var ext instance.Extern
		var ok bool
		if resolve != nil {
			ext, ok = resolve(imp.Module, imp.Name)
		}
		if !ok {
			return nil, errs.UnresolvedImport(imp.Module, imp.Name)
		}
		if err := checkImport(mod, imp, ext); err != nil {
			return nil, err
		}
		resolved = append(resolved, ResolvedImport{Module: imp.Module, Name: imp.Name, Extern: ext})
	}

	return e.engine.Instantiate(ctx, mod, resolved, name)
}

// GetExport returns inst's export under name with the exact requested
// kind.
func (e *Executor) GetExport(inst *instance.Module, name string, kind byte) (instance.Extern, error) {
	ext, ok := inst.Export(name)
	if !ok {
		return instance.Extern{}, errs.NotFound(errs.PhaseStore, "export", name)
	}
	if ext.Kind != kind {
		return instance.Extern{}, errs.KindMismatch(name, wasm.KindName(kind), wasm.KindName(ext.Kind))
	}
	return ext, nil
}

// Call invokes fn. A trap unwinds only this call chain; instances and
// registrations stay valid.
func (e *Executor) Call(ctx context.Context, fn *instance.Function, args ...value.Value) ([]value.Value, error) {
	if fn == nil {
		return nil, errs.InvalidInput(errs.PhaseCall, "function is nil")
	}
	return fn.Call(ctx, args...)
}

// checkImport verifies that ext can satisfy the import declaration:
// matching kind, structurally equal function types, limits at least
// as permissive as required, and exact global mutability.
func checkImport(mod *wasm.Module, imp wasm.Import, ext instance.Extern) error {
	if ext.Kind != imp.Desc.Kind {
		return errs.ImportTypeMismatch(imp.Module, imp.Name,
			"resolved to a "+wasm.KindName(ext.Kind)+", import needs a "+wasm.KindName(imp.Desc.Kind))
	}

	switch imp.Desc.Kind {
	case wasm.KindFunc:
		if int(imp.Desc.TypeIdx) >= len(mod.Types) {
			return errs.UnknownIndex([]string{"import", imp.Name}, imp.Desc.TypeIdx, uint32(len(mod.Types)))
		}
		want := mod.Types[imp.Desc.TypeIdx]
		got := ext.Func.Type()
		if !got.Equal(want) {
			return errs.ImportTypeMismatch(imp.Module, imp.Name,
				"function type "+got.String()+" does not match required "+want.String())
		}

	case wasm.KindTable:
		required := *imp.Desc.Table
		provided := ext.Table.Type()
		if provided.Elem != required.Elem {
			return errs.ImportTypeMismatch(imp.Module, imp.Name,
				"table of "+provided.Elem.String()+", import needs "+required.Elem.String())
		}
		if err := checkLimits(uint64(ext.Table.Size()), provided.Limits.Max, required.Limits); err != nil {
			return errs.ImportTypeMismatch(imp.Module, imp.Name, "table "+err.Error())
		}

	case wasm.KindMemory:
		required := imp.Desc.Memory.Limits
		provided := ext.Memory.Type().Limits
		if err := checkLimits(uint64(ext.Memory.Pages()), provided.Max, required); err != nil {
			return errs.ImportTypeMismatch(imp.Module, imp.Name, "memory "+err.Error())
		}

	case wasm.KindGlobal:
		required := *imp.Desc.Global
		if ext.Global.Kind() != required.Type {
			return errs.ImportTypeMismatch(imp.Module, imp.Name,
				"global of "+ext.Global.Kind().String()+", import needs "+required.Type.String())
		}
		if ext.Global.Mutable() != required.Mutable {
			return errs.ImportTypeMismatch(imp.Module, imp.Name, "global mutability differs")
		}
	}
	return nil
}

// checkLimits applies the import subtyping rule: the provided entity
// must be at least as large as required and must not be able to
// outgrow the required maximum.
func checkLimits(providedSize uint64, providedMax *uint64, required wasm.Limits) error {
	if providedSize < required.Min {
		return fmt.Errorf("size %d below required minimum %d", providedSize, required.Min)
	}
	if required.Max != nil {
		if providedMax == nil {
			return fmt.Errorf("import requires maximum %d, provided entity is unbounded", *required.Max)
		}
		if *providedMax > *required.Max {
			return fmt.Errorf("provided maximum %d exceeds required maximum %d", *providedMax, *required.Max)
		}
	}
	return nil
}
