// Package wasi provides a minimal WASI-preview1-flavoured host module
// built on instance.Builder. It is registered like any other import
// collection; the runtime core gives it no special treatment.
package wasi
