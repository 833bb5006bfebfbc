package diskimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

// Utility is the disk image tool the package drives.
const Utility = "hdiutil"

// releaseTimeout bounds the detach step when the caller's context is already gone.
const releaseTimeout = 2 * time.Minute

var (
	// ErrMountFailed is returned when the image cannot be attached.
	ErrMountFailed = errors.New("failed to mount disk image")
	// ErrBundleNotFound is returned when the attached volume holds no application bundle.
	ErrBundleNotFound = errors.New("no application bundle found in disk image")
)

// Mount is one active disk image attachment.
// It is created only by Attach and must be released exactly once with Release.
type Mount struct {
	// Image is the attached disk image.
	Image string
	// MountPoint is the owned temporary directory the image is attached at.
	MountPoint string
	// Bundle is the discovered application bundle inside MountPoint.
	Bundle string

	runner   executor.Runner
	ledger   mounts.Repository
	warn     func(string)
	tempDir  string
	id       string
	attached bool
	released bool
}

// Option configures Attach.
type Option func(*Mount)

// WithLedger records the attachment in repo until it is fully released.
func WithLedger(repo mounts.Repository) Option {
	return func(m *Mount) {
		m.ledger = repo
	}
}

// WithWarnings routes release warnings to sink in addition to the log.
func WithWarnings(sink func(string)) Option {
	return func(m *Mount) {
		m.warn = sink
	}
}

// WithTempDir creates mount points inside dir instead of the system temp directory.
func WithTempDir(dir string) Option {
	return func(m *Mount) {
		m.tempDir = dir
	}
}

// Attach creates a private mount point, attaches image there read-only and
// locates the application bundle. On any failure everything acquired so far is
// released before the error is returned, so callers only release successful mounts.
func Attach(ctx context.Context, runner executor.Runner, image string, opts ...Option) (*Mount, error) {
	m := &Mount{
		Image:  image,
		runner: runner,
		id:     uuid.NewString(),
	}

	for _, opt := range opts {
		opt(m)
	}

	mountPoint, err := os.MkdirTemp(m.tempDir, "carrus-mount-")
	if err != nil {
		return nil, fmt.Errorf("%w: create mount point: %w", ErrMountFailed, err)
	}

	m.MountPoint = mountPoint
	m.record(ctx)

	logger.InfoKV(ctx, "Mounting disk image", "image", image, "mount_point", mountPoint)

	result, err := runner.Run(ctx, "Mounting disk image",
		Utility, "attach", image,
		"-mountpoint", mountPoint,
		"-readonly", "-nobrowse", "-noautoopen", "-quiet",
	)

	switch {
	case err != nil:
		m.Release(ctx)
		return nil, fmt.Errorf("%w: %w", ErrMountFailed, err)
	case !result.Success():
		m.Release(ctx)
		return nil, fmt.Errorf("%w: %s", ErrMountFailed, describe(result))
	}

	m.attached = true

	bundle, err := FindBundle(mountPoint)
	if err != nil {
		m.Release(ctx)
		return nil, err
	}

	m.Bundle = bundle
	logger.InfoKV(ctx, "Found application bundle", "bundle", bundle)

	return m, nil
}

// Release detaches the image and removes the mount point. It is idempotent and
// never fails: problems are reported as warnings. Detach runs even if ctx is canceled.
func (m *Mount) Release(ctx context.Context) {
	if m == nil || m.released {
		return
	}

	m.released = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	detached := !m.attached
	if m.attached {
		detached = m.detach(ctx)
	}

	if !m.removeMountPoint(ctx, detached) {
		return
	}

	if m.ledger != nil {
		if err := m.ledger.Remove(ctx, m.id); err != nil && !errors.Is(err, mounts.ErrNotFound) {
			logger.WarnKV(ctx, "Failed to update mount ledger", "error", err)
		}
	}
}

// Released reports whether Release has run.
func (m *Mount) Released() bool {
	return m.released
}

func (m *Mount) detach(ctx context.Context) bool {
	result, err := m.runner.Run(ctx, "Unmounting disk image", Utility, "detach", m.MountPoint, "-force")

	switch {
	case err != nil:
		m.warning(ctx, fmt.Sprintf("Failed to unmount disk image: %v", err))
		return false
	case !result.Success():
		m.warning(ctx, "Failed to unmount disk image: "+describe(result))
		return false
	}

	m.attached = false

	return true
}

// removeMountPoint deletes the mount point. After a failed detach only an empty
// directory is removed, so a still-attached volume is never walked.
func (m *Mount) removeMountPoint(ctx context.Context, detached bool) bool {
	var err error
	if detached {
		err = os.RemoveAll(m.MountPoint)
	} else {
		err = os.Remove(m.MountPoint)
	}

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.warning(ctx, fmt.Sprintf("Failed to remove mount point: %v", err))
		return false
	}

	return detached
}

func (m *Mount) record(ctx context.Context) {
	if m.ledger == nil {
		return
	}

	err := m.ledger.Add(ctx, mounts.Record{
		ID:         m.id,
		Image:      m.Image,
		MountPoint: m.MountPoint,
		CreatedAt:  time.Now().UTC(),
		PID:        os.Getpid(),
	})
	if err != nil {
		logger.WarnKV(ctx, "Failed to record mount in ledger", "error", err)
	}
}

func (m *Mount) warning(ctx context.Context, message string) {
	logger.WarnKV(ctx, message, "image", m.Image, "mount_point", m.MountPoint)

	if m.warn != nil {
		m.warn(message)
	}
}

// describe renders the most useful part of a failed utility result.
func describe(result executor.Result) string {
	text := strings.TrimSpace(result.Stderr)
	if text == "" {
		text = strings.TrimSpace(result.Stdout)
	}

	if text == "" {
		return fmt.Sprintf("exit status %d", result.ExitCode)
	}

	return fmt.Sprintf("%s (exit status %d)", text, result.ExitCode)
}
