// Package dblock serialises integration tests that share one Postgres database across
// test binaries. The lock is a loopback listener held until the release func runs.
package dblock

import (
	"net"
	"os"
	"sync"
	"time"
)

const defaultAddr = "127.0.0.1:45433"

func lockAddr() string {
	if v := os.Getenv("TRANSFER_TEST_DB_LOCK_ADDR"); v != "" {
		return v
	}
	return defaultAddr
}

// Acquire blocks until the lock is free. The returned func is safe to call more than once.
func Acquire() func() {
	addr := lockAddr()
	backoff := 25 * time.Millisecond
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			var once sync.Once
			return func() { once.Do(func() { _ = ln.Close() }) }
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}
