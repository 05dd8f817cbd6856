// Package tracker records how much memory is in use while a piece of work runs.
//
// # Reading Guide
//
// Start with these files:
//   - scope.go: Start/Release and Track, the acquire/release boundary around the work
//   - worker.go: the background sampling loop (idle → running → stopping → stopped)
//   - sink.go: the trace file, its durability points and the seal that orders the marker last
//
// # Architecture
//
// The tracker package wires sub-packages together:
//   - tracker/schedule/: the adaptive delay between samples
//   - tracker/memory/: memory sources (procfs meminfo, process RSS, gopsutil)
//   - tracker/trace/: the CSV trace codec, outcome predicates and summaries
//
// A trace is a headerless CSV of "elapsed_seconds,usage_bytes" rows. On release the
// scope appends "0,0" when the work returned normally or "-1,-1" when it failed. A
// trace whose last complete row is a sample was cut short by an ungraceful crash.
package tracker
