// Package mounts implements the mount ledger.
//
// Every disk image attachment is recorded before the image is attached and
// removed once both detach and mount point removal succeed. Records left
// behind by crashes or failed cleanups are picked up by the sweep command.
package mounts
