// Package sweep is the entry point of the sweep command, which detaches and
// removes mounts recorded in the ledger by runs that could not release them.
package sweep
