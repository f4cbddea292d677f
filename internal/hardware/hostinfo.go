package hardware

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// HostInfo identifies the machine the sensors belong to.
type HostInfo struct {
	Hostname string
	Model    string
}

// DescribeHost returns the host name and a model string of the form
// "{platform} {version} ({arch})".
//
// If the OS query fails it falls back to os.Hostname and the Go runtime's
// GOOS/GOARCH.
func DescribeHost(ctx context.Context) HostInfo {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		name, _ := os.Hostname()
		return HostInfo{
			Hostname: name,
			Model:    fmt.Sprintf("%s (%s)", runtime.GOOS, runtime.GOARCH),
		}
	}

	platform := strings.TrimSpace(strings.Join([]string{info.Platform, info.PlatformVersion}, " "))
	if platform == "" {
		platform = info.OS
	}
	arch := info.KernelArch
	if arch == "" {
		arch = runtime.GOARCH
	}
	return HostInfo{
		Hostname: info.Hostname,
		Model:    fmt.Sprintf("%s (%s)", platform, arch),
	}
}
