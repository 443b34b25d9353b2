package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// MinFreeBytes is the free space a run needs in the data directory.
const MinFreeBytes = 64 * 1024 * 1024

const lockRetryDelay = 100 * time.Millisecond

// Guard serializes pipeline runs across processes. Acquire first probes
// the data directory, so an unwritable disk (ErrCodeStorageReadOnly) is
// reported differently from a run held by another process
// (ErrCodeLockContended).
type Guard struct {
	dir        string
	timeout    time.Duration
	minFree    uint64
	statfs     func(path string) (uint64, error)
	retryDelay time.Duration
}

// NewGuard returns a guard for dataDir that waits up to timeout for the
// lock.
func NewGuard(dataDir string, timeout time.Duration) *Guard {
	return &Guard{
		dir:        dataDir,
		timeout:    timeout,
		minFree:    MinFreeBytes,
		statfs:     freeBytes,
		retryDelay: lockRetryDelay,
	}
}

// Probe creates, syncs and removes a scratch file in the data directory,
// then checks free space. It never touches existing files.
func (g *Guard) Probe() error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return cerrors.New(cerrors.ErrCodeStorageReadOnly, "data directory not writable: "+g.dir, err)
	}

	f, err := os.CreateTemp(g.dir, ".probe-*")
	if err != nil {
		return cerrors.New(cerrors.ErrCodeStorageReadOnly, "data directory not writable: "+g.dir, err).
			WithSuggestion("check permissions and whether the filesystem is mounted read-only")
	}
	name := f.Name()
	_, werr := f.Write([]byte("probe"))
	serr := f.Sync()
	cerr := f.Close()
	rerr := os.Remove(name)
	if err := errors.Join(werr, serr, cerr, rerr); err != nil {
		return cerrors.New(cerrors.ErrCodeStorageReadOnly, "probe write failed in "+g.dir, err)
	}

	if g.minFree > 0 && g.statfs != nil {
		free, err := g.statfs(g.dir)
		if err == nil && free < g.minFree {
			return cerrors.New(cerrors.ErrCodeDiskFull,
				fmt.Sprintf("%s free in %s (minimum %s)", formatBytes(free), g.dir, formatBytes(g.minFree)), nil)
		}
	}
	return nil
}

// Lease is a held pipeline lock.
type Lease struct {
	lock *flock.Flock
}

// Release unlocks. It is safe to call more than once.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	err := l.lock.Unlock()
	l.lock = nil
	if err != nil {
		return cerrors.StorageError("release pipeline lock", err)
	}
	return nil
}

// Acquire probes storage and takes the pipeline lock, waiting up to the
// guard's timeout.
func (g *Guard) Acquire(ctx context.Context) (*Lease, error) {
	if err := g.Probe(); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(g.dir, LockFile))
	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	locked, err := lock.TryLockContext(waitCtx, g.retryDelay)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, cerrors.StorageError("acquire pipeline lock", err)
	}
	if !locked {
		return nil, cerrors.New(cerrors.ErrCodeLockContended,
			fmt.Sprintf("another pipeline run holds %s (waited %s)", LockFile, g.timeout), nil)
	}
	return &Lease{lock: lock}, nil
}

func freeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/gb)
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/mb)
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/kb)
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
