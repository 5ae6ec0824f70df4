package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/dlotrack/internal/timeutil"
)

func TestIsSQLiteBusy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other", errors.New("constraint failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("succeeds after retry", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{busyBackoff, 2 * busyBackoff}, clock.Sleeps())
	})

	t.Run("other error returns immediately", func(t *testing.T) {
		calls := 0
		other := errors.New("boom")
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		err := retryOnBusy(clock, func() error {
			calls++
			return other
		})
		assert.Equal(t, other, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, clock.Sleeps())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			return busy
		})
		assert.Equal(t, busy, err)
		assert.Equal(t, maxBusyRetries, calls)
		assert.Len(t, clock.Sleeps(), maxBusyRetries-1)
	})
}
