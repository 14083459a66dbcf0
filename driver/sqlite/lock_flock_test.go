//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package sqlite_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdLockFile takes the lock the way a schemagate run in another container
// sharing the volume would.
func holdLockFile(t *testing.T, path string) func() {
	t.Helper()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}
}

func TestLockAcrossProcesses(t *testing.T) {
	t.Parallel()

	drv, path := openTemp(t)
	release := holdLockFile(t, path+".lock")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := drv.Lock(ctx, "schemagate")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	releaseDrv, err := drv.Lock(context.Background(), "schemagate")
	require.NoError(t, err)
	defer releaseDrv()

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestLockFileIsHeldUntilRelease(t *testing.T) {
	t.Parallel()

	drv, path := openTemp(t)

	release, err := drv.Lock(context.Background(), "schemagate")
	require.NoError(t, err)

	file, err := os.OpenFile(path+".lock", os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck

	assert.ErrorIs(t, syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB), syscall.EWOULDBLOCK)

	release()

	require.NoError(t, syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
}
