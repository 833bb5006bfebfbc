// Package verify is the entry point of the verify command.
package verify
