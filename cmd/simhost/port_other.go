//go:build !linux

package main

import "github.com/joeycumines/go-osal"

// newPort falls back to the mutex-backed Port on non-linux hosts, where
// timerfd/epoll are unavailable.
func newPort() (osal.Port, error) {
	return osal.NewMutexPort(), nil
}
