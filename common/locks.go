package common

import (
	"os"
	"sync"

	redisutil "github.com/kthomas/go-redisutil"
)

var (
	localLocks      = map[string]*sync.Mutex{}
	localLocksMutex sync.Mutex
)

// WithLock executes fn while holding an exclusive lock on the named resource.
// When redis is configured the lock is a distributed redlock so mutations
// serialize across instances; otherwise a process-local mutex is used.
func WithLock(key string, fn func() error) error {
	if os.Getenv("REDIS_HOSTS") != "" {
		return redisutil.WithRedlock(key, fn)
	}

	localLocksMutex.Lock()
	mutex, mutexOk := localLocks[key]
	if !mutexOk {
		mutex = &sync.Mutex{}
		localLocks[key] = mutex
	}
	localLocksMutex.Unlock()

	mutex.Lock()
	defer mutex.Unlock()

	return fn()
}
