// Package sysinfo collects a small host snapshot for the status command
// and captures desktop screenshots with the platform's native tool.
package sysinfo

import (
	"os"
	"runtime"
	"time"
)

// Snapshot is a point-in-time view of the host the bot runs on.
type Snapshot struct {
	Hostname string
	OS       string
	Arch     string
	NumCPU   int
	PID      int

	// Uptime is the host uptime, zero when the platform cannot report it.
	Uptime time.Duration

	// Disk usage for the working directory's filesystem. Zero when the
	// platform cannot report it.
	DiskTotalBytes uint64
	DiskFreeBytes  uint64

	GoVersion string
}

// Collect gathers a snapshot. It never fails; unavailable fields are
// left at their zero values.
func Collect(workDir string) Snapshot {
	host, _ := os.Hostname()
	total, free := diskUsage(workDir)
	return Snapshot{
		Hostname:       host,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		PID:            os.Getpid(),
		Uptime:         hostUptime(),
		DiskTotalBytes: total,
		DiskFreeBytes:  free,
		GoVersion:      runtime.Version(),
	}
}
