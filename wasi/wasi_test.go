package wasi_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasi"
	"github.com/wippyai/wasm-vm/wasm"
)

func newMemory(t *testing.T) *instance.Memory {
	t.Helper()
	mem, err := instance.NewMemory(wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return mem
}

func call(t *testing.T, mod *instance.Module, name string, args ...value.Value) []value.Value {
	t.Helper()
	fn, err := mod.Function(name)
	if err != nil {
		t.Fatalf("Function(%s): %v", name, err)
	}
	results, err := fn.Call(context.Background(), args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return results
}

func TestP1_FdWrite(t *testing.T) {
	var out bytes.Buffer
	p := wasi.New(wasi.WithStdout(&out))
	mem := newMemory(t)
	p.BindMemory(mem)

	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	// One iovec at 0 pointing at "hi\n" stored at 64.
	if err := mem.Write(64, []byte("hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var iovec [8]byte
	binary.LittleEndian.PutUint32(iovec[0:], 64)
	binary.LittleEndian.PutUint32(iovec[4:], 3)
	if err := mem.Write(0, iovec[:]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	results := call(t, mod, "fd_write", value.I32(1), value.I32(0), value.I32(1), value.I32(32))
	if results[0].ToI32() != 0 {
		t.Fatalf("fd_write errno %d", results[0].ToI32())
	}
	if out.String() != "hi\n" {
		t.Errorf("stdout %q, expected %q", out.String(), "hi\n")
	}
	nwritten, err := mem.Read(32, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if binary.LittleEndian.Uint32(nwritten) != 3 {
		t.Errorf("nwritten %d, expected 3", binary.LittleEndian.Uint32(nwritten))
	}
}

func TestP1_FdWrite_BadFd(t *testing.T) {
	p := wasi.New()
	p.BindMemory(newMemory(t))
	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	results := call(t, mod, "fd_write", value.I32(5), value.I32(0), value.I32(0), value.I32(0))
	if results[0].ToI32() != 8 {
		t.Errorf("expected EBADF (8), got %d", results[0].ToI32())
	}
}

func TestP1_FdWrite_NoMemory(t *testing.T) {
	p := wasi.New()
	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	results := call(t, mod, "fd_write", value.I32(1), value.I32(0), value.I32(1), value.I32(0))
	if results[0].ToI32() != 21 {
		t.Errorf("expected EFAULT (21), got %d", results[0].ToI32())
	}
}

func TestP1_RandomGet(t *testing.T) {
	src := bytes.NewReader([]byte{9, 8, 7, 6})
	p := wasi.New(wasi.WithRandSource(src))
	mem := newMemory(t)
	p.BindMemory(mem)
	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	results := call(t, mod, "random_get", value.I32(16), value.I32(4))
	if results[0].ToI32() != 0 {
		t.Fatalf("random_get errno %d", results[0].ToI32())
	}
	data, err := mem.Read(16, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte{9, 8, 7, 6}) {
		t.Errorf("expected seeded bytes, got %v", data)
	}
}

func TestP1_ClockTimeGet(t *testing.T) {
	fixed := time.Unix(1700000000, 123)
	p := wasi.New(wasi.WithClock(func() time.Time { return fixed }))
	mem := newMemory(t)
	p.BindMemory(mem)
	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}

	results := call(t, mod, "clock_time_get", value.I32(0), value.I64(1), value.I32(8))
	if results[0].ToI32() != 0 {
		t.Fatalf("clock_time_get errno %d", results[0].ToI32())
	}
	data, err := mem.Read(8, 8)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := binary.LittleEndian.Uint64(data); got != uint64(fixed.UnixNano()) {
		t.Errorf("expected %d, got %d", fixed.UnixNano(), got)
	}
}

func TestP1_ProcExit(t *testing.T) {
	p := wasi.New()
	mod, err := p.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	fn, err := mod.Function("proc_exit")
	if err != nil {
		t.Fatalf("Function: %v", err)
	}

	_, err = fn.Call(context.Background(), value.I32(3))
	var he *errs.HostError
	if !errors.As(err, &he) || he.Code != 3 {
		t.Errorf("expected host error code 3, got %v", err)
	}
}

func TestP1_ModuleShape(t *testing.T) {
	mod, err := wasi.New().Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if mod.Name() != wasi.ModuleName {
		t.Errorf("module name %q", mod.Name())
	}
	for _, name := range []string{"fd_write", "random_get", "clock_time_get", "proc_exit"} {
		if _, err := mod.Function(name); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}
