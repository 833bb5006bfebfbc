// Package build is the entry point of the build command: it loads settings,
// wires the pipeline and reports the result.
package build
