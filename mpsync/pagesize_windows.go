//go:build windows

package mpsync

// pageSize is the host's page size. Windows x86/x64 has used a fixed
// 4 KiB page size across every release this server targets, so unlike
// the unix build there is no syscall worth calling here.
const pageSize = 4096
