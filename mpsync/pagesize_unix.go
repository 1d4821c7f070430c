//go:build !windows

package mpsync

import "golang.org/x/sys/unix"

// pageSize is the host's page size, used to round a pinned staging
// buffer's allocation up to a whole number of pages.
var pageSize = unix.Getpagesize()
