package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"go.uber.org/zap"
)

// acquire takes the named distributed lock with a single attempt. With no lock manager
// configured it always succeeds. acquired is false when another instance holds the lock.
func acquire(ctx context.Context, locks *redsync.Redsync, name string, ttl time.Duration) (release func(), acquired bool, err error) {
	if locks == nil {
		return func() {}, true, nil
	}
	mutex := locks.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			zap.L().Debug("lock held elsewhere", zap.String("lock", name))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	return func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			zap.L().Warn("release lock", zap.String("lock", name), zap.Error(err))
		}
	}, true, nil
}

func isLockContention(err error) bool {
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, new(*redsync.ErrTaken))
}
