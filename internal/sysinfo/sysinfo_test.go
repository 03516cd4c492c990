package sysinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	s := Collect(t.TempDir())

	assert.NotEmpty(t, s.Hostname)
	assert.Equal(t, runtime.GOOS, s.OS)
	assert.Positive(t, s.NumCPU)
	assert.Positive(t, s.PID)
	assert.NotEmpty(t, s.GoVersion)

	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		assert.Positive(t, s.DiskTotalBytes)
		assert.LessOrEqual(t, s.DiskFreeBytes, s.DiskTotalBytes)
	}
}
