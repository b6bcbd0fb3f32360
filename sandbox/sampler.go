package sandbox

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// cumulative holds the monotonically increasing OS counters a single sweep
// observed; per-second rates are derived from the delta between two sweeps.
type cumulative struct {
	readBytes  uint64
	writeBytes uint64
	pageFaults uint64
	at         time.Time
}

// sample reads the current resource usage for rootPID and its children,
// summing across the process tree, since a plugin's native module may fork
// helper processes inside the same container. Gauge-like resources come
// back in the value map; counter-backed ones come back as cumulative totals
// for the caller to difference.
func sample(rootPID int32) (map[Resource]float64, cumulative, error) {
	root, err := process.NewProcess(rootPID)
	if err != nil {
		return nil, cumulative{}, err
	}

	procs := []*process.Process{root}
	if children, err := root.Children(); err == nil {
		procs = append(procs, children...)
	}

	totals := make(map[Resource]float64)
	var cum cumulative
	for _, p := range procs {
		if cpu, err := p.CPUPercent(); err == nil {
			totals[ResourceCPUPercent] += cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			totals[ResourceMemMB] += float64(mem.RSS) / (1024 * 1024)
		}
		if threads, err := p.NumThreads(); err == nil {
			totals[ResourceThreads] += float64(threads)
		}
		if fds, err := p.NumFDs(); err == nil {
			totals[ResourceHandles] += float64(fds)
		}
		if io, err := p.IOCounters(); err == nil && io != nil {
			cum.readBytes += io.ReadBytes
			cum.writeBytes += io.WriteBytes
		}
		if pf, err := p.PageFaults(); err == nil && pf != nil {
			cum.pageFaults += pf.MinorFaults + pf.MajorFaults
		}
	}
	return totals, cum, nil
}

// rates converts the counter delta between prev and cur into per-second
// figures. A counter that went backwards (a process in the tree exited and
// took its contribution with it) is skipped for that window rather than
// reported as a negative rate.
func rates(prev, cur cumulative) map[Resource]float64 {
	dt := cur.at.Sub(prev.at).Seconds()
	if dt <= 0 {
		return nil
	}
	out := make(map[Resource]float64, 3)
	if cur.readBytes >= prev.readBytes {
		out[ResourceDiskReadKBps] = float64(cur.readBytes-prev.readBytes) / 1024 / dt
	}
	if cur.writeBytes >= prev.writeBytes {
		out[ResourceDiskWriteKBps] = float64(cur.writeBytes-prev.writeBytes) / 1024 / dt
	}
	if cur.pageFaults >= prev.pageFaults {
		out[ResourcePageFaultsPerS] = float64(cur.pageFaults-prev.pageFaults) / dt
	}
	return out
}

// sampleLoop runs one producer-per-plugin sampling goroutine, appending a
// Sample for every governed resource at each tick of interval until ctx is
// cancelled. Cancellation happens before the plugin's container is torn
// down.
func sampleLoop(ctx context.Context, rootPID int32, interval time.Duration, histories map[Resource]*History, onSample func(Resource, float64)) {
	interval = ClampInterval(interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev cumulative
	havePrev := false

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			values, cum, err := sample(rootPID)
			if err != nil {
				continue
			}
			cum.at = now
			if havePrev {
				for resource, value := range rates(prev, cum) {
					values[resource] = value
				}
			}
			prev, havePrev = cum, true

			for resource, value := range values {
				h, ok := histories[resource]
				if !ok {
					continue
				}
				h.Append(Sample{Timestamp: now, Value: value})
				if onSample != nil {
					onSample(resource, value)
				}
			}
		}
	}
}
