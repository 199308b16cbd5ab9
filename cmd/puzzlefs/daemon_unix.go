//go:build !windows

package main

import "syscall"

// daemonSysProcAttr detaches the daemonized child into its own session so
// it survives the parent's exit and isn't killed by terminal signals.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
