package agent

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// MetricReport is the body posted to /collect-metrics.
type MetricReport struct {
	Hostname  string  `json:"hostname"`
	IP        string  `json:"ip"`
	CPU       float64 `json:"cpu"`
	RAMTotal  uint64  `json:"ramTotal"`
	RAMUsed   uint64  `json:"ramUsed"`
	DiskTotal uint64  `json:"diskTotal"`
	DiskUsed  uint64  `json:"diskUsed"`
	NetIn     uint64  `json:"netIn"`
	NetOut    uint64  `json:"netOut"`
	Platform  string  `json:"platform,omitempty"`
	TimeLocal string  `json:"time_local"`
}

type MetricsCollector struct {
	hostname string
	ip       string
	platform string
	diskPath string
	sample   time.Duration
}

func NewMetricsCollector() (*MetricsCollector, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}

	mc := &MetricsCollector{
		hostname: hostname,
		ip:       getLocalIP(),
		diskPath: "/",
		sample:   time.Second,
	}

	if info, err := host.Info(); err == nil {
		mc.platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	}

	return mc, nil
}

func (mc *MetricsCollector) Hostname() string {
	return mc.hostname
}

func (mc *MetricsCollector) Collect() (*MetricReport, error) {
	cpuPercent, err := cpu.Percent(mc.sample, false)
	if err != nil {
		return nil, fmt.Errorf("get cpu percent: %w", err)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("get memory usage: %w", err)
	}

	diskInfo, err := disk.Usage(mc.diskPath)
	if err != nil {
		return nil, fmt.Errorf("get disk usage: %w", err)
	}

	report := &MetricReport{
		Hostname:  mc.hostname,
		IP:        mc.ip,
		RAMTotal:  memInfo.Total,
		RAMUsed:   memInfo.Used,
		DiskTotal: diskInfo.Total,
		DiskUsed:  diskInfo.Used,
		Platform:  mc.platform,
		TimeLocal: time.Now().Format(time.RFC3339),
	}
	if len(cpuPercent) > 0 {
		report.CPU = cpuPercent[0]
	}

	// Network counters are optional; some sandboxes hide /proc/net/dev.
	if counters, err := psnet.IOCounters(false); err == nil && len(counters) > 0 {
		report.NetIn = counters[0].BytesRecv
		report.NetOut = counters[0].BytesSent
	}

	return report, nil
}

// getLocalIP returns the first non-loopback IPv4 address, or "" if none.
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
