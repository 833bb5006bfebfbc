// Package common holds helpers shared by the carrus services.
//
// Prepare turns a configuration file into the collaborators every command
// needs: a leveled logger, the audit log tagged with the current actor, the
// command executor, the mount ledger and an optional metrics registry.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
