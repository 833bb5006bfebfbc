// Package version holds the carrus release number and the commit and build
// time stamped in through -ldflags. The version subcommand prints Full.
package version
