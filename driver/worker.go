package driver

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrlite/mapreduce-lite/config"
	"github.com/mrlite/mapreduce-lite/ioadapters"
)

// Worker drives one process through spec.md 4.5's state machine for
// exactly one role (mapper, map-only, incremental reducer, or batch
// reducer), determined by cfg.Role.
type Worker struct {
	cfg   *config.Config
	log   zerolog.Logger
	runID string
	state State
}

// NewWorker returns a Worker in state UNINIT for the given validated
// configuration. cfg.Logger() supplies the base logger; a run id is
// attached to every line this worker logs (SPEC_FULL.md 1 "Identifiers").
func NewWorker(cfg *config.Config) *Worker {
	runID := uuid.New().String()
	return &Worker{
		cfg:   cfg,
		log:   cfg.Logger().With().Str("run", runID).Logger(),
		runID: runID,
		state: StateUninit,
	}
}

// State reports the worker's current lifecycle position.
func (w *Worker) State() State { return w.state }

// Run executes this worker's role to completion or to the first fatal
// error. cfg was already validated by config.Parse, so Run starts at
// VALIDATED and moves through RESOURCES_OPEN, RUNNING, and DRAINING on
// the way to FINALIZED.
func (w *Worker) Run(ctx context.Context) error {
	w.state = StateValidated
	w.log.Info().Str("role", roleName(w.cfg.Role)).Msg("driver: worker starting")

	var err error
	switch w.cfg.Role {
	case config.RoleMapper, config.RoleMapOnly:
		err = w.runMapper(ctx)
	case config.RoleIncrementalReducer:
		err = w.runIncrementalReducer(ctx)
	case config.RoleBatchReducer:
		err = w.runBatchReducer(ctx)
	default:
		err = errors.Errorf("driver: unknown role %v", w.cfg.Role)
	}

	if err != nil {
		w.log.Error().Err(err).Str("state", w.state.String()).Msg("driver: worker aborted")
		return err
	}
	w.log.Info().Msg("driver: worker finished")
	return nil
}

func roleName(r config.Role) string {
	switch r {
	case config.RoleMapper:
		return "mapper"
	case config.RoleMapOnly:
		return "map_only"
	case config.RoleIncrementalReducer:
		return "incremental_reducer"
	case config.RoleBatchReducer:
		return "batch_reducer"
	default:
		return "unknown"
	}
}

// openOutputWriters creates one file per cfg.OutputFiles entry, in
// cfg.OutputFormat, and returns both the Writer views and the underlying
// *os.File handles (kept only for the final Close).
func (w *Worker) openOutputWriters() ([]ioadapters.Writer, []*os.File, error) {
	writers := make([]ioadapters.Writer, 0, len(w.cfg.OutputFiles))
	files := make([]*os.File, 0, len(w.cfg.OutputFiles))
	for _, path := range w.cfg.OutputFiles {
		f, err := os.Create(path)
		if err != nil {
			closeFiles(files)
			return nil, nil, errors.Wrapf(ErrFatal, "creating output file %q: %v", path, err)
		}
		files = append(files, f)
		if w.cfg.OutputFormat == "protofile" {
			writers = append(writers, ioadapters.NewFramedWriter(f))
		} else {
			writers = append(writers, ioadapters.NewTextWriter(f))
		}
	}
	return writers, files, nil
}

// ExitCode maps a Run result to the exit code spec.md 6 describes: zero
// on successful Finalize, non-zero on any validation or resource
// failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
