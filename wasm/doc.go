// Package wasm parses, validates, and re-encodes WebAssembly binary
// modules.
//
// ParseModule decodes the core binary format (WebAssembly 2.0 without
// the GC, exception handling, and threads proposals) into a Module
// whose sections mirror the index spaces of the format: imports come
// first in every space, declared entities after. Validate performs
// full static validation, from index range and limits checks down to
// operand stack type checking of every function body. Encode writes a
// Module back out in canonical section order, which the execution
// engine uses when it rewrites import names before compilation.
package wasm
