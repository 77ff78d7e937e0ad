package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-vm/executor"
)

// Engine executes modules on a wazero runtime. All instances created
// through one Engine share the runtime, which is what lets them import
// each other's memories and globals.
type Engine struct {
	runtime wazero.Runtime
	seq     atomic.Uint64
}

var _ executor.Engine = (*Engine)(nil)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	// This allows atomic operations and shared memory within WASM modules.
	EnableThreads bool
}

// New creates an engine with default configuration.
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &Engine{runtime: runtime}, nil
}

// Close releases the runtime and every instance created through it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// nextID hands out runtime-unique identifiers for internal module
// names. Wazero requires distinct names within one runtime; the
// caller-facing instance name carries no such restriction.
func (e *Engine) nextID() uint64 {
	return e.seq.Add(1)
}

func internalName(prefix string, id uint64) string {
	return fmt.Sprintf("wasmvm.%s%d", prefix, id)
}
