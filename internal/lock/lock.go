//go:build !deadlock_test

// Package lock provides the mutex types used across git-autofetch.
// Build with `-tags deadlock_test` to swap them for go-deadlock
// implementations which report lock ordering issues and long waits.
package lock

import "sync"

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
