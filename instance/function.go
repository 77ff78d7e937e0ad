package instance

import (
	"context"
	"fmt"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
)

// GoFunc is the signature of a host function. The env value is the
// opaque context supplied when the function was registered; args are
// already checked against the declared parameter kinds.
//
// A host function signals failure by returning an error. Returning
// *errors.HostError carries an opaque uint8 code through to the
// caller unchanged; any other error is wrapped as a host failure.
type GoFunc func(ctx context.Context, env any, args []value.Value) ([]value.Value, error)

// Code is executable guest code issued by an execution engine.
// Implementations dispatch into compiled wasm.
type Code interface {
	Call(ctx context.Context, args []value.Value) ([]value.Value, error)
}

// Function is a callable function instance, either a registered host
// function or an exported guest function.
type Function struct {
	typ    value.FuncType
	hostFn GoFunc
	env    any
	code   Code
}

// NewHostFunction creates a host function instance with an opaque
// environment value passed to every invocation.
func NewHostFunction(typ value.FuncType, fn GoFunc, env any) (*Function, error) {
	if fn == nil {
		return nil, errs.InvalidInput(errs.PhaseHost, "host function callback is nil")
	}
	return &Function{typ: typ, hostFn: fn, env: env}, nil
}

// NewGuestFunction wraps an engine-issued code handle as a function
// instance.
func NewGuestFunction(typ value.FuncType, code Code) *Function {
	return &Function{typ: typ, code: code}
}

// Type returns the declared signature.
func (f *Function) Type() value.FuncType {
	return f.typ
}

// IsHost reports whether the function dispatches to registered host
// code rather than guest code.
func (f *Function) IsHost() bool {
	return f.hostFn != nil
}

// Call invokes the function. Arguments are checked against the
// declared parameter kinds before anything runs; on mismatch the
// callee is not invoked. Results are verified against the declared
// result kinds on the way out.
func (f *Function) Call(ctx context.Context, args ...value.Value) ([]value.Value, error) {
	if len(args) != len(f.typ.Params) {
		return nil, errs.ArityOrTypeMismatch(
			"expected %d arguments, got %d", len(f.typ.Params), len(args))
	}
	for i, arg := range args {
		if arg.Kind() != f.typ.Params[i] {
			return nil, errs.ArityOrTypeMismatch(
				"argument %d: expected %s, got %s", i, f.typ.Params[i], arg.Kind())
		}
	}

	var results []value.Value
	var err error
	if f.hostFn != nil {
		results, err = f.callHost(ctx, args)
	} else if f.code != nil {
		results, err = f.code.Call(ctx, args)
	} else {
		return nil, errs.InvalidInput(errs.PhaseCall, "function has no implementation")
	}
	if err != nil {
		return nil, err
	}

	if len(results) != len(f.typ.Results) {
		return nil, errs.ArityOrTypeMismatch(
			"implementation returned %d results, declared %d", len(results), len(f.typ.Results))
	}
	for i, res := range results {
		if res.Kind() != f.typ.Results[i] {
			return nil, errs.ArityOrTypeMismatch(
				"result %d: declared %s, got %s", i, f.typ.Results[i], res.Kind())
		}
	}
	return results, nil
}

func (f *Function) callHost(ctx context.Context, args []value.Value) (results []value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Wrap(errs.PhaseHost, errs.KindHostError,
				fmt.Errorf("panic: %v", r), "host function panicked")
		}
	}()
	results, err = f.hostFn(ctx, f.env, args)
	if err != nil {
		// HostError and already-structured errors pass through so
		// callers can match on them.
		switch err.(type) {
		case *errs.HostError, *errs.Error:
			return nil, err
		}
		return nil, errs.Wrap(errs.PhaseHost, errs.KindHostError, err, "host function failed")
	}
	return results, nil
}
