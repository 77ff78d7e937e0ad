// Package vm offers a one-stop session over the runtime: load bytes,
// register import modules, and invoke exports without wiring the
// loader, executor and store by hand.
package vm
