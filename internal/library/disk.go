package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

// MinFreePercent is the share of the volume that must stay free for
// downloads to continue.
const MinFreePercent = 2.0

// usageFunc matches [disk.UsageWithContext].
type usageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// DiskGuard checks free space on the volume holding the sync root.
type DiskGuard struct {
	path  string
	usage usageFunc
	log   *slog.Logger
}

// NewDiskGuard returns a DiskGuard for the volume containing path.
func NewDiskGuard(path string, logger *slog.Logger) *DiskGuard {
	return &DiskGuard{path: path, usage: disk.UsageWithContext, log: logger}
}

// HasFreeSpace reports whether more than [MinFreePercent] of the volume is free.
func (g *DiskGuard) HasFreeSpace(ctx context.Context) (bool, error) {
	u, err := g.usage(ctx, g.path)
	if err != nil {
		return false, fmt.Errorf("reading disk usage of %q: %w", g.path, err)
	}
	if u.Total == 0 {
		return true, nil
	}
	freePct := float64(u.Free) * 100 / float64(u.Total)
	if freePct <= MinFreePercent {
		g.log.Warn("low disk space",
			"path", g.path,
			"free", humanize.Bytes(u.Free),
			"total", humanize.Bytes(u.Total))
		return false, nil
	}
	return true, nil
}
