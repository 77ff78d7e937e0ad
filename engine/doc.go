// Package engine executes modules on wazero. It bridges host
// functions into the runtime, shadows host memories and globals with
// synthetic provider modules so guest and host observe one state, and
// wraps guest exports back into instance handles.
package engine
