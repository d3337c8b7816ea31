//go:build linux

package parallel

import (
	"os"
	"strconv"
	"strings"
)

func availableRAMMB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	return meminfoMB(string(data), "MemAvailable")
}

// meminfoMB returns the named /proc/meminfo entry in MB, or 0 if absent.
func meminfoMB(meminfo, key string) int {
	for line := range strings.Lines(meminfo) {
		name, rest, ok := strings.Cut(line, ":")
		if !ok || name != key {
			continue
		}
		kb, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(rest), " kB"))
		if err != nil {
			return 0
		}
		return kb >> 10
	}
	return 0
}
