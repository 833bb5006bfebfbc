// Package metrics records build and verification metrics.
//
// Components take a Recorder and default to NoopRecorder, so metrics stay
// optional and no nil checks are needed at call sites. PrometheusRecorder
// registers its collectors on a caller supplied registry, which the CLI can
// dump in text exposition format with WriteTextfile after a run.
package metrics
