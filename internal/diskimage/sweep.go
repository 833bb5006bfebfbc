package diskimage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/go-ps"

	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

// SweepReport summarises one sweep over the mount ledger.
type SweepReport struct {
	// Cleaned lists the mount points that were fully reclaimed.
	Cleaned []string
	// Warnings holds one message per step that failed.
	Warnings []string
	// Active lists the mount points skipped because their owner is still running.
	Active []string
}

// ProcessFinder looks up a running process by PID. ps.FindProcess in production;
// a nil process means the PID is gone.
type ProcessFinder func(pid int) (ps.Process, error)

// SweepOption configures Sweep.
type SweepOption func(*sweeper)

type sweeper struct {
	find ProcessFinder
}

// WithProcessFinder replaces the owner liveness lookup.
func WithProcessFinder(find ProcessFinder) SweepOption {
	return func(s *sweeper) {
		s.find = find
	}
}

// Sweep reclaims attachments recorded in the ledger that were never fully
// released: each mount point is force-detached and removed, and its record is
// dropped once the directory is gone. Records whose owning process is still
// alive are left alone. Nothing here returns an error per entry.
func Sweep(ctx context.Context, runner executor.Runner, ledger mounts.Repository, opts ...SweepOption) (*SweepReport, error) {
	s := &sweeper{find: ps.FindProcess}
	for _, opt := range opts {
		opt(s)
	}

	records, err := ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mount ledger: %w", err)
	}

	report := new(SweepReport)

	for _, record := range records {
		ctx := logger.WithKV(ctx, "mount_point", record.MountPoint, "image", record.Image)

		if s.ownerAlive(ctx, record) {
			logger.InfoKV(ctx, "Skipping mount held by a running process", "pid", record.PID)
			report.Active = append(report.Active, record.MountPoint)

			continue
		}

		if sweepOne(ctx, runner, record, report) {
			if err = ledger.Remove(ctx, record.ID); err != nil && !errors.Is(err, mounts.ErrNotFound) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: update ledger: %v", record.MountPoint, err))
				continue
			}

			report.Cleaned = append(report.Cleaned, record.MountPoint)
		}
	}

	logger.InfoKV(ctx, "Mount sweep finished",
		"cleaned", len(report.Cleaned), "active", len(report.Active), "warnings", len(report.Warnings))

	return report, nil
}

// ownerAlive reports whether the process that recorded the mount still runs.
// A failed lookup counts as alive so a mount in use is never torn down.
func (s *sweeper) ownerAlive(ctx context.Context, record mounts.Record) bool {
	if record.PID <= 0 {
		return false
	}

	process, err := s.find(record.PID)
	if err != nil {
		logger.WarnKV(ctx, "Failed to look up mount owner", "pid", record.PID, "error", err)
		return true
	}

	return process != nil
}

func sweepOne(ctx context.Context, runner executor.Runner, record mounts.Record, report *SweepReport) bool {
	if _, err := os.Stat(record.MountPoint); errors.Is(err, os.ErrNotExist) {
		return true
	}

	detached := true

	result, err := runner.Run(ctx, "Detaching orphaned disk image", Utility, "detach", record.MountPoint, "-force")

	switch {
	case err != nil:
		detached = false

		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: detach: %v", record.MountPoint, err))
	case !result.Success():
		// Not attached any more is the common case; an empty directory can still be removed.
		detached = false

		logger.DebugKV(ctx, "Detach reported failure", "result", describe(result))
	}

	if detached {
		err = os.RemoveAll(record.MountPoint)
	} else {
		err = os.Remove(record.MountPoint)
	}

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: remove mount point: %v", record.MountPoint, err))
		return false
	}

	return true
}
