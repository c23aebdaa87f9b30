package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/wavelinknet/ispbridge_backend/config"
)

var ErrLockNotObtained = errors.New("another run already holds the lock")

// ObtainRunLock grabs a named single-flight lock and returns it still held.
// The caller must Release it when the protected run finishes.
func ObtainRunLock(ctx context.Context, name string, ttl time.Duration, moduleName string, funcName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, funcName, "Redis lock not initialized", name, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	lockKey := fmt.Sprintf("lock:%s", name)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrLockNotObtained
	} else if err != nil {
		config.LogError(logger, moduleName, funcName, "Error obtaining lock", lockKey, err)
		return nil, err
	}
	return lock, nil
}
