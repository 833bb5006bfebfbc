// Package builder installs the application bundle from a disk image.
//
// A run walks Init, Validation, Mounting, Extraction, Copying and ends in
// Cleanup on every path. Failures are folded into the BuildResult; cleanup
// problems only ever add warnings.
package builder
