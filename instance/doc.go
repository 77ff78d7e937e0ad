// Package instance holds the runtime objects a wasm embedding works
// with: functions, tables, memories, globals, and the module instances
// that export them.
//
// Function unifies host and guest code behind one Call entry point
// with argument and result checking on both sides of the boundary.
// Memory and Global sit behind a backing seam: created locally they
// own their storage, and when an execution engine materializes the
// instance the same handle is re-bound to engine storage, so
// references taken before instantiation stay valid after it.
//
// Builder assembles import collections in the style of an import
// object: named host entities that guest modules resolve their
// imports against. Finish consumes the builder and yields a regular
// Module, the same type the executor produces for guest instances.
package instance
