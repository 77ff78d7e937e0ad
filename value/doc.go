// Package value defines the typed runtime values exchanged across the
// host/guest boundary and the function-type signatures used for type
// enforcement.
//
// Values are immutable once constructed. Numeric kinds have exact-width
// two's-complement or IEEE-754 semantics; funcref and externref carry
// opaque handles the runtime never interprets.
package value
