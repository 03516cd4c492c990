//go:build linux

package sysinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

func hostUptime() time.Duration {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0
	}
	return time.Duration(si.Uptime) * time.Second
}
