package sysinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// CaptureScreenshot grabs the desktop with the platform's native tool
// and writes a PNG under destDir, returning the file path. Headless
// hosts and hosts without a capture tool return an error.
func CaptureScreenshot(ctx context.Context, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(destDir, fmt.Sprintf("screenshot-%s.png", time.Now().Format("20060102-150405")))

	cmd, err := captureCommand(ctx, path)
	if err != nil {
		return "", err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("capture screenshot: %v: %s", err, out)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("capture tool produced no file: %w", err)
	}
	return path, nil
}

func captureCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "screencapture", "-x", path), nil
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms,System.Drawing; `+
			`$b = [System.Windows.Forms.SystemInformation]::VirtualScreen; `+
			`$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height; `+
			`$g = [System.Drawing.Graphics]::FromImage($bmp); `+
			`$g.CopyFromScreen($b.Left, $b.Top, 0, 0, $bmp.Size); `+
			`$bmp.Save('%s')`, path)
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script), nil
	default:
		for _, tool := range [][]string{
			{"gnome-screenshot", "-f", path},
			{"scrot", path},
			{"import", "-window", "root", path},
		} {
			if _, err := exec.LookPath(tool[0]); err == nil {
				return exec.CommandContext(ctx, tool[0], tool[1:]...), nil
			}
		}
		return nil, fmt.Errorf("no screenshot tool found (tried gnome-screenshot, scrot, import)")
	}
}
