package serve

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// cmdSysinfo reports host and process stats. Host figures come from
// /proc and degrade to n/a on platforms without it.
func (c *Commands) cmdSysinfo(req CommandRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Load: %s\n", readLoadAvg())

	used, total, pct := readMemInfo()
	fmt.Fprintf(&sb, "RAM: %s/%s MB (%s%%)\n", used, total, pct)
	fmt.Fprintf(&sb, "Uptime: %s\n", readUptime())

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fmt.Fprintf(&sb, "Process: %d goroutines, %d MB heap, %s\n",
		runtime.NumGoroutine(), ms.HeapAlloc/(1024*1024), runtime.Version())
	return sb.String()
}

// readLoadAvg returns the 1/5/15 minute load averages.
func readLoadAvg() string {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return "n/a"
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return "n/a"
	}
	return strings.Join(fields[:3], " ")
}

// readMemInfo returns used and total memory in MB plus the used
// percentage, all as strings so a missing /proc degrades cleanly.
func readMemInfo() (used, total, pct string) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return "n/a", "n/a", "n/a"
	}

	var totalKB, availKB int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		return "n/a", "n/a", "n/a"
	}

	usedKB := totalKB - availKB
	return fmt.Sprintf("%d", usedKB/1024),
		fmt.Sprintf("%d", totalKB/1024),
		fmt.Sprintf("%.1f", float64(usedKB)/float64(totalKB)*100)
}

// readUptime formats /proc/uptime as days, hours and minutes.
func readUptime() string {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return "n/a"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "n/a"
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "n/a"
	}

	s := int64(seconds)
	return fmt.Sprintf("%dd %dh %dm", s/86400, s%86400/3600, s%3600/60)
}
