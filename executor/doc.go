// Package executor turns validated modules into live instances and
// dispatches calls into them.
//
// The executor itself is stateless: it resolves and type checks
// imports, then delegates allocation, data/element initialization,
// and the start routine to an Engine. Import resolution is pluggable
// through the Resolver function type; StoreResolver answers from a
// store of registered instances, which covers both guest modules and
// import collections assembled with instance.Builder.
package executor
