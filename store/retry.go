package store

import (
	"errors"
	"math/rand"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	busyMaxAttempts = 32
	busyBaseDelayMs = 10
	busyMaxDelayMs  = 500
	busyJitterShare = 0.25
)

// isBusy reports whether err is a transient SQLite contention error.
// Anything else is treated as fatal for the operation.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// retryOnBusy runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with linear
// backoff and jitter. The busy_timeout pragma handles most contention; this
// covers the cases where the timeout itself expires under sustained load.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}

		delayMs := attempt * busyBaseDelayMs
		if delayMs > busyMaxDelayMs {
			delayMs = busyMaxDelayMs
		}
		jitter := 1 + busyJitterShare*(2*rand.Float64()-1)
		delay := time.Duration(float64(delayMs)*jitter) * time.Millisecond

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("database busy, retrying")
		time.Sleep(delay)
	}
	return err
}
