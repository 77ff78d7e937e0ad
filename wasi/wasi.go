package wasi

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/value"
)

// ModuleName is the import namespace guests compiled against WASI
// preview1 expect.
const ModuleName = "wasi_snapshot_preview1"

// preview1 errno values used by this module.
const (
	errnoSuccess uint32 = 0
	errnoBadf    uint32 = 8
	errnoFault   uint32 = 21
	errnoInval   uint32 = 28
)

// P1 implements a small slice of WASI preview1: enough for guests
// that print, read the clock, and ask for entropy. The guest's
// exported memory must be bound before any call that touches pointers.
type P1 struct {
	stdout io.Writer
	stderr io.Writer
	rand   io.Reader
	now    func() time.Time
	mem    *instance.Memory
}

// Option configures a P1 during New.
type Option func(*P1)

// WithStdout redirects fd 1.
func WithStdout(w io.Writer) Option {
	return func(p *P1) { p.stdout = w }
}

// WithStderr redirects fd 2.
func WithStderr(w io.Writer) Option {
	return func(p *P1) { p.stderr = w }
}

// WithRandSource replaces the entropy source.
func WithRandSource(r io.Reader) Option {
	return func(p *P1) { p.rand = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *P1) { p.now = now }
}

// New creates a preview1 host module backed by the process's stdio,
// crypto/rand and wall clock unless options say otherwise.
func New(opts ...Option) *P1 {
	p := &P1{
		stdout: io.Discard,
		stderr: io.Discard,
		rand:   rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BindMemory points the syscalls at the guest's exported linear
// memory. Guests export it under "memory" by convention; the embedder
// looks it up after instantiation and binds it here.
func (p *P1) BindMemory(mem *instance.Memory) {
	p.mem = mem
}

// Module assembles the syscall collection for registration in a
// store.
func (p *P1) Module() (*instance.Module, error) {
	b := instance.NewBuilder()

	i32 := value.KindI32
	i64 := value.KindI64

	if err := b.AddFunction("fd_write",
		value.NewFuncType([]value.Kind{i32, i32, i32, i32}, []value.Kind{i32}),
		fdWrite, p); err != nil {
		return nil, err
	}
	if err := b.AddFunction("random_get",
		value.NewFuncType([]value.Kind{i32, i32}, []value.Kind{i32}),
		randomGet, p); err != nil {
		return nil, err
	}
	if err := b.AddFunction("clock_time_get",
		value.NewFuncType([]value.Kind{i32, i64, i32}, []value.Kind{i32}),
		clockTimeGet, p); err != nil {
		return nil, err
	}
	if err := b.AddFunction("proc_exit",
		value.NewFuncType([]value.Kind{i32}, nil),
		procExit, p); err != nil {
		return nil, err
	}

	return b.Finish(ModuleName)
}

// fd_write(fd, iovs, iovs_len, nwritten_ptr) -> errno
func fdWrite(_ context.Context, env any, args []value.Value) ([]value.Value, error) {
	p := env.(*P1)
	fd := args[0].ToI32()
	iovs := uint32(args[1].ToI32())
	iovsLen := uint32(args[2].ToI32())
	nwrittenPtr := uint32(args[3].ToI32())

	var w io.Writer
	switch fd {
	case 1:
		w = p.stdout
	case 2:
		w = p.stderr
	default:
		return errno(errnoBadf), nil
	}

	written := uint32(0)
	for i := uint32(0); i < iovsLen; i++ {
		base, ok := p.readU32(iovs + i*8)
		if !ok {
			return errno(errnoFault), nil
		}
		length, ok := p.readU32(iovs + i*8 + 4)
		if !ok {
			return errno(errnoFault), nil
		}
		data, err := p.readBytes(base, length)
		if err != nil {
			return errno(errnoFault), nil
		}
		n, err := w.Write(data)
		written += uint32(n)
		if err != nil {
			return errno(errnoInval), nil
		}
	}

	if !p.writeU32(nwrittenPtr, written) {
		return errno(errnoFault), nil
	}
	return errno(errnoSuccess), nil
}

// random_get(buf, buf_len) -> errno
func randomGet(_ context.Context, env any, args []value.Value) ([]value.Value, error) {
	p := env.(*P1)
	buf := uint32(args[0].ToI32())
	bufLen := uint32(args[1].ToI32())

	data := make([]byte, bufLen)
	if _, err := io.ReadFull(p.rand, data); err != nil {
		return errno(errnoInval), nil
	}
	if p.mem == nil || p.mem.Write(buf, data) != nil {
		return errno(errnoFault), nil
	}
	return errno(errnoSuccess), nil
}

// clock_time_get(clock_id, precision, time_ptr) -> errno
func clockTimeGet(_ context.Context, env any, args []value.Value) ([]value.Value, error) {
	p := env.(*P1)
	timePtr := uint32(args[2].ToI32())

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.now().UnixNano()))
	if p.mem == nil || p.mem.Write(timePtr, buf[:]) != nil {
		return errno(errnoFault), nil
	}
	return errno(errnoSuccess), nil
}

// proc_exit(code) traps the guest, carrying the code out as a host
// error.
func procExit(_ context.Context, _ any, args []value.Value) ([]value.Value, error) {
	return nil, &errs.HostError{Code: uint8(args[0].ToI32())}
}

func errno(code uint32) []value.Value {
	return []value.Value{value.I32(int32(code))}
}

func (p *P1) readU32(offset uint32) (uint32, bool) {
	data, err := p.readBytes(offset, 4)
	if err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}

func (p *P1) readBytes(offset, count uint32) ([]byte, error) {
	if p.mem == nil {
		return nil, errs.InvalidInput(errs.PhaseHost, "no guest memory bound")
	}
	return p.mem.Read(offset, count)
}

func (p *P1) writeU32(offset uint32, v uint32) bool {
	if p.mem == nil {
		return false
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return p.mem.Write(offset, buf[:]) == nil
}
