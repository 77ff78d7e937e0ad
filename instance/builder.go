package instance

import (
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// Builder assembles an import collection: a module instance of host
// functions, tables, memories, and globals that guests can import.
// Finish is the single consuming transition; a finished builder
// rejects further use.
type Builder struct {
	exports  map[string]Extern
	order    []string
	finished bool
}

// NewBuilder creates an empty import builder.
func NewBuilder() *Builder {
	return &Builder{exports: make(map[string]Extern)}
}

// AddFunction registers a host function under name. The env value is
// handed back to fn on every call.
func (b *Builder) AddFunction(name string, typ value.FuncType, fn GoFunc, env any) error {
	f, err := NewHostFunction(typ, fn, env)
	if err != nil {
		return err
	}
	return b.add(name, FuncExtern(f))
}

// AddTable registers a freshly allocated table under name.
func (b *Builder) AddTable(name string, typ wasm.TableType) error {
	t, err := NewTable(typ)
	if err != nil {
		return err
	}
	return b.add(name, TableExtern(t))
}

// AddMemory registers a freshly allocated memory under name.
func (b *Builder) AddMemory(name string, limits wasm.Limits) error {
	m, err := NewMemory(wasm.MemoryType{Limits: limits})
	if err != nil {
		return err
	}
	return b.add(name, MemoryExtern(m))
}

// AddGlobal registers a global under name holding init.
func (b *Builder) AddGlobal(name string, mutable bool, init value.Value) error {
	g, err := NewGlobal(init.Kind(), mutable, init)
	if err != nil {
		return err
	}
	return b.add(name, GlobalExtern(g))
}

func (b *Builder) add(name string, ext Extern) error {
	if b.finished {
		return errs.InvalidInput(errs.PhaseHost, "builder already finished")
	}
	if name == "" {
		return errs.InvalidInput(errs.PhaseHost, "export name must not be empty")
	}
	if _, exists := b.exports[name]; exists {
		return errs.DuplicateExport(name)
	}
	b.exports[name] = ext
	b.order = append(b.order, name)
	return nil
}

// Finish seals the builder and returns the assembled module instance
// under moduleName. The builder cannot be used afterwards.
func (b *Builder) Finish(moduleName string) (*Module, error) {
	if b.finished {
		return nil, errs.InvalidInput(errs.PhaseHost, "builder already finished")
	}
	if moduleName == "" {
		return nil, errs.InvalidInput(errs.PhaseHost, "module name must not be empty")
	}
	b.finished = true
	m := NewModule(moduleName)
	for _, name := range b.order {
		if err := m.AddExport(name, b.exports[name]); err != nil {
			return nil, err
		}
	}
	b.exports = nil
	b.order = nil
	return m, nil
}
