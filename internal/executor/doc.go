// Package executor is the single gateway for invoking external programs.
//
// An Executor is built with the list of utilities it may run. Each one is
// resolved against an explicit search path at construction time, and New
// fails if any is missing. Command vectors are validated before launch:
// the program must be allow-listed by name or be an absolute path to an
// executable regular file. Children run with PATH as their only environment
// variable, and their stdout, stderr and exit code are returned verbatim.
package executor
