// Package resource checks host capacity before new work is admitted.
package resource

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"transcriber/config"
)

// probes wraps the gopsutil calls so tests can replace them.
type probes struct {
	cpuPercent    func() ([]float64, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	diskUsage     func(path string) (*disk.UsageStat, error)
}

var hostProbes = probes{
	// A zero interval compares against the previous call instead of sleeping.
	cpuPercent:    func() ([]float64, error) { return cpu.Percent(0, false) },
	virtualMemory: mem.VirtualMemory,
	diskUsage:     disk.Usage,
}

// Throttle rejects new work when idle CPU, available memory or free disk
// fall below the configured thresholds. A zero threshold disables that check.
type Throttle struct {
	idleCPU  float64
	freeMem  uint64
	freeDisk uint64
	dir      string
	log      logrus.FieldLogger
	probe    probes
}

func NewThrottle(cfg *config.Config, log logrus.FieldLogger) *Throttle {
	dir := cfg.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Throttle{
		idleCPU:  cfg.ThrottleCPU,
		freeMem:  uint64(cfg.ThrottleFreeMem),
		freeDisk: uint64(cfg.ThrottleFreeDisk),
		dir:      dir,
		log:      log,
		probe:    hostProbes,
	}
}

// Check verifies that the system has enough free resources to start a new job.
// Probe failures are logged and do not block admission.
func (th *Throttle) Check() error {
	if th.idleCPU > 0 {
		p, err := th.probe.cpuPercent()
		if err != nil {
			th.log.WithError(err).Warn("Could not get CPU usage")
		} else if len(p) > 0 && p[0] > 100.0-th.idleCPU {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], th.idleCPU)
		}
	}

	if th.freeMem > 0 {
		vm, err := th.probe.virtualMemory()
		if err != nil {
			th.log.WithError(err).Warn("Could not get memory usage")
		} else if vm.Available < th.freeMem {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, th.freeMem)
		}
	}

	if th.freeDisk > 0 {
		d, err := th.probe.diskUsage(th.dir)
		if err != nil {
			th.log.WithError(err).WithField("dir", th.dir).Warn("Could not get disk usage")
		} else if d.Free < th.freeDisk {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, th.freeDisk)
		}
	}
	return nil
}

// MemorySummary describes host memory in megabytes.
type MemorySummary struct {
	TotalMB     uint64  `json:"total_mb"`
	AvailableMB uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// Summary reports host memory for the service descriptor.
func Summary() (MemorySummary, error) {
	return summarize(hostProbes.virtualMemory)
}

func summarize(virtualMemory func() (*mem.VirtualMemoryStat, error)) (MemorySummary, error) {
	vm, err := virtualMemory()
	if err != nil {
		return MemorySummary{}, fmt.Errorf("could not read host memory: %w", err)
	}
	const mb = 1 << 20
	return MemorySummary{
		TotalMB:     vm.Total / mb,
		AvailableMB: vm.Available / mb,
		UsedPercent: vm.UsedPercent,
	}, nil
}
