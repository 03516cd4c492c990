package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/sysinfo"
)

func (d *Dispatcher) handleStatus(ctx context.Context, _ Interaction) error {
	snap := sysinfo.Collect(d.cfg.WorkDir)

	active := "idle"
	if d.registry.Active() != nil {
		active = "query running"
	}
	running := 0
	for _, p := range d.shells.List() {
		if p.Running {
			running++
		}
	}

	fields := []bus.Field{
		{Name: "Host", Value: snap.Hostname, Inline: true},
		{Name: "Platform", Value: snap.OS + "/" + snap.Arch, Inline: true},
		{Name: "CPUs", Value: fmt.Sprint(snap.NumCPU), Inline: true},
		{Name: "Agent", Value: active, Inline: true},
		{Name: "Shell procs", Value: fmt.Sprint(running), Inline: true},
		{Name: "Workdir", Value: d.cfg.WorkDir},
	}
	if snap.DiskTotalBytes > 0 {
		fields = append(fields, bus.Field{
			Name:   "Disk",
			Value:  fmt.Sprintf("%s free of %s", humanBytes(snap.DiskFreeBytes), humanBytes(snap.DiskTotalBytes)),
			Inline: true,
		})
	}
	if snap.Uptime > 0 {
		fields = append(fields, bus.Field{Name: "Uptime", Value: snap.Uptime.Round(time.Minute).String(), Inline: true})
	}
	return d.reply(ctx, bus.Panel("Status", "", fields...))
}

func (d *Dispatcher) handleScreenshot(ctx context.Context, _ Interaction) error {
	path, err := sysinfo.CaptureScreenshot(ctx, filepath.Join(d.cfg.WorkDir, ".relay", "screenshots"))
	if err != nil {
		return err
	}
	return d.reply(ctx, bus.Text("Screenshot saved to "+path))
}

func (d *Dispatcher) handleCrashes(ctx context.Context, _ Interaction) error {
	stats := d.crashes.Stats()
	if stats.Total == 0 {
		return d.reply(ctx, bus.Text("No crashes recorded."))
	}

	var b strings.Builder
	for _, r := range d.crashes.Recent(5) {
		fmt.Fprintf(&b, "%s  [%s]  %s\n", r.Time.Format("Jan 2 15:04:05"), r.Category, r.Err)
	}

	fields := []bus.Field{
		{Name: "Total", Value: fmt.Sprint(stats.Total), Inline: true},
		{Name: "Recoverable", Value: fmt.Sprint(stats.Recoverable), Inline: true},
	}
	for cat, n := range stats.ByCategory {
		fields = append(fields, bus.Field{Name: cat, Value: fmt.Sprint(n), Inline: true})
	}
	return d.reply(ctx, bus.Panel("Crash reports", clip(b.String()), fields...))
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
