// Package driver implements the worker state machine, the map loop, and
// both reduce modes described in spec.md 4.5: sharding and output
// dispatch, the incremental partial-reduce table, and the batch grouped
// merge over a SortedBuffer's spill files.
package driver

import "github.com/pkg/errors"

// Sentinel error classes mirror spec.md 7's taxonomy. Call sites wrap
// these with context via errors.Wrap; errors.Is/errors.Cause recovers
// the class. ExitCode does not distinguish classes: every error maps to
// exit code 1.
var (
	// ErrConfiguration marks an invalid flag combination caught after
	// config.Parse succeeded but before any job resource was opened
	// (e.g. an unregistered mapper_class).
	ErrConfiguration = errors.New("driver: configuration error")

	// ErrFatal marks a Resource or Protocol/I/O failure: the system has
	// no retry path once running, by design (spec.md 7).
	ErrFatal = errors.New("driver: fatal error")

	// ErrOversizeRecord marks a single emit whose combined
	// klen+vlen+8 exceeds max_map_output_size.
	ErrOversizeRecord = errors.New("driver: oversize record")

	// ErrUserContract marks a call a job's variant does not permit,
	// e.g. OutputToShard from a map-only job.
	ErrUserContract = errors.New("driver: user contract violation")
)
