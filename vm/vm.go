package vm

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-vm/engine"
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/executor"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/store"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// VM ties the loader, validator, executor and store together into one
// session. It is a convenience surface; every operation is also
// reachable through the underlying packages.
type VM struct {
	engine *engine.Engine
	exec   *executor.Executor
	store  *store.Store
	log    *zap.Logger
}

// Option configures a VM during New.
type Option func(*options)

type options struct {
	store *store.Store
	cfg   *engine.Config
	log   *zap.Logger
}

// WithStore shares an existing store between sessions.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithConfig applies engine configuration.
func WithConfig(cfg *engine.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger enables structured logging for session operations.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates a session with its own engine.
func New(ctx context.Context, opts ...Option) (*VM, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = store.New()
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	eng, err := engine.NewWithConfig(ctx, o.cfg)
	if err != nil {
		return nil, err
	}

	return &VM{
		engine: eng,
		exec:   executor.New(eng),
		store:  o.store,
		log:    o.log,
	}, nil
}

// Close releases the engine and every instance it created. Handles
// obtained from this session must not be used afterwards.
func (v *VM) Close(ctx context.Context) error {
	return v.engine.Close(ctx)
}

// Store exposes the session's instance registry.
func (v *VM) Store() *store.Store {
	return v.store
}

// RegisterModuleFromBytes loads, validates and instantiates bin, then
// registers the instance under name so later modules can import its
// exports. The name is checked up front: a collision fails before the
// engine creates any instance state.
func (v *VM) RegisterModuleFromBytes(ctx context.Context, name string, bin []byte) (*instance.Module, error) {
	if err := v.store.CheckName(name); err != nil {
		return nil, err
	}
	inst, err := v.instantiate(ctx, name, bin)
	if err != nil {
		return nil, err
	}
	if err := v.store.RegisterNamed(name, inst); err != nil {
		return nil, err
	}
	v.log.Info("module registered",
		zap.String("module", name),
		zap.Int("exports", inst.NumExports()))
	return inst, nil
}

// RegisterImports registers a host-built import collection. The
// collection's own name keys the resolution namespace.
func (v *VM) RegisterImports(imports *instance.Module) error {
	if imports == nil {
		return errs.InvalidInput(errs.PhaseStore, "nil import collection")
	}
	if err := v.store.RegisterNamed(imports.Name(), imports); err != nil {
		return err
	}
	v.log.Info("imports registered",
		zap.String("module", imports.Name()),
		zap.Int("exports", imports.NumExports()))
	return nil
}

// LoadFromBytes instantiates bin as the session's active module,
// evicting any previous active module from that slot. Existing handles
// onto the evicted instance stay valid.
func (v *VM) LoadFromBytes(ctx context.Context, bin []byte) (*instance.Module, error) {
	inst, err := v.instantiate(ctx, "", bin)
	if err != nil {
		return nil, err
	}
	v.store.SetActive(inst)
	v.log.Info("active module loaded", zap.Int("exports", inst.NumExports()))
	return inst, nil
}

// RunFunction invokes a function export of the active module.
func (v *VM) RunFunction(ctx context.Context, fn string, args ...value.Value) ([]value.Value, error) {
	f, err := v.GetFunction(fn)
	if err != nil {
		return nil, err
	}
	return v.call(ctx, "", fn, f, args)
}

// RunRegisteredFunction invokes a function export of a registered
// module.
func (v *VM) RunRegisteredFunction(ctx context.Context, module, fn string, args ...value.Value) ([]value.Value, error) {
	f, err := v.GetFunctionRegistered(module, fn)
	if err != nil {
		return nil, err
	}
	return v.call(ctx, module, fn, f, args)
}

// GetFunction returns a reusable handle onto an export of the active
// module. The handle outlives eviction of the instance from the active
// slot.
func (v *VM) GetFunction(fn string) (*instance.Function, error) {
	inst, err := v.store.Active()
	if err != nil {
		return nil, err
	}
	return inst.Function(fn)
}

// GetFunctionRegistered returns a handle onto an export of a
// registered module.
func (v *VM) GetFunctionRegistered(module, fn string) (*instance.Function, error) {
	inst, err := v.store.LookupNamed(module)
	if err != nil {
		return nil, err
	}
	return inst.Function(fn)
}

func (v *VM) instantiate(ctx context.Context, name string, bin []byte) (*instance.Module, error) {
	mod, err := wasm.ParseModuleValidate(bin)
	if err != nil {
		return nil, err
	}
	return v.exec.Instantiate(ctx, mod, executor.StoreResolver(v.store), name)
}

func (v *VM) call(ctx context.Context, module, fn string, f *instance.Function, args []value.Value) ([]value.Value, error) {
	results, err := v.exec.Call(ctx, f, args...)
	if err != nil {
		v.log.Warn("function call failed",
			zap.String("module", module),
			zap.String("function", fn),
			zap.Error(err))
		return nil, err
	}
	v.log.Debug("function called",
		zap.String("module", module),
		zap.String("function", fn),
		zap.Int("args", len(args)),
		zap.Int("results", len(results)))
	return results, nil
}
