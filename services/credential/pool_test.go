package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, ids []string, threshold int, cooldown time.Duration) *Pool {
	t.Helper()
	pool, err := New(Config{
		CredentialIDs:    ids,
		FailureThreshold: threshold,
		CooldownDuration: cooldown,
	})
	require.NoError(t, err)
	return pool
}

func TestNewRejectsEmptyPool(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAcquireRoundRobins(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0", "cred-1", "cred-2"}, 3, time.Minute)

	seen := make([]string, 3)
	for i := range seen {
		id, err := pool.Acquire()
		require.NoError(t, err)
		seen[i] = id
	}
	assert.Equal(t, []string{"cred-0", "cred-1", "cred-2"}, seen)

	// rotation wraps back to the start
	id, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "cred-0", id)
}

func TestReportFailureEntersCooldownAtThreshold(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0", "cred-1"}, 2, time.Minute)
	ctx := context.Background()

	pool.ReportFailure(ctx, "cred-0", "timeout")
	h, ok := pool.Health("cred-0")
	require.True(t, ok)
	assert.False(t, h.InCooldown(time.Now()), "one failure shouldn't bench a credential")

	pool.ReportFailure(ctx, "cred-0", "timeout")
	h, ok = pool.Health("cred-0")
	require.True(t, ok)
	assert.True(t, h.InCooldown(time.Now()), "second consecutive failure should hit the threshold")
}

func TestAcquireSkipsCooldownCredential(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0", "cred-1"}, 1, time.Minute)
	ctx := context.Background()

	pool.ReportFailure(ctx, "cred-0", "rate limited")

	id, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "cred-1", id)

	// cred-1 now benched too: nothing left to acquire
	pool.ReportFailure(ctx, "cred-1", "rate limited")
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrNoCredentialAvailable)
}

func TestReportSuccessResetsFailureCount(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0"}, 3, time.Minute)
	ctx := context.Background()

	pool.ReportFailure(ctx, "cred-0", "timeout")
	pool.ReportFailure(ctx, "cred-0", "timeout")
	pool.ReportSuccess("cred-0")

	h, ok := pool.Health("cred-0")
	require.True(t, ok)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.False(t, h.InCooldown(time.Now()))
}

func TestRestoreExpiredCooldownsClearsElapsedWindow(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0"}, 1, time.Millisecond)
	ctx := context.Background()

	pool.ReportFailure(ctx, "cred-0", "timeout")
	h, ok := pool.Health("cred-0")
	require.True(t, ok)
	require.False(t, h.CooldownUntil.IsZero())

	time.Sleep(5 * time.Millisecond)
	pool.RestoreExpiredCooldowns(ctx)

	h, ok = pool.Health("cred-0")
	require.True(t, ok)
	assert.True(t, h.CooldownUntil.IsZero())
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestAcquireNReturnsFewerThanRequestedWhenShortOnHealthyKeys(t *testing.T) {
	pool := newTestPool(t, []string{"cred-0", "cred-1", "cred-2"}, 1, time.Minute)
	ctx := context.Background()

	pool.ReportFailure(ctx, "cred-1", "timeout")
	pool.ReportFailure(ctx, "cred-2", "timeout")

	got := pool.AcquireN(3)
	assert.Equal(t, []string{"cred-0"}, got)
}
