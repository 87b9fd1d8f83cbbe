package assets

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Tier selects which rendition of the frames is fetched.
type Tier string

const (
	Tier4K Tier = "4k"
	TierHD Tier = "hd"
	TierSD Tier = "sd"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case Tier4K:
		return Tier4K, nil
	case TierHD:
		return TierHD, nil
	case TierSD:
		return TierSD, nil
	}
	return "", fmt.Errorf("assets: unknown tier %q", s)
}

// Label is the human readable name shown next to the quality switch.
func (t Tier) Label() string {
	switch t {
	case Tier4K:
		return "Ultra HD (4K)"
	case TierSD:
		return "Standard (480p)"
	default:
		return "Full HD (1080p)"
	}
}

// FrameWidth is the pixel width the frames of this tier are rendered at.
func (t Tier) FrameWidth() int {
	switch t {
	case Tier4K:
		return 3840
	case TierSD:
		return 960
	default:
		return 1920
	}
}

// Capabilities describe the display and host the player runs on.
// Zero values mean "unknown".
type Capabilities struct {
	ScreenWidth int
	PixelRatio  float64
	// slow-2g, 2g, 3g, 4g or ""
	Network  string
	MemoryGB float64
	CPUs     int
}

// DetectTier picks the best tier the device can comfortably play back.
func DetectTier(c Capabilities) Tier {
	dpr := c.PixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	cpus := c.CPUs
	if cpus <= 0 {
		cpus = 4
	}
	effectiveWidth := float64(c.ScreenWidth) * dpr

	if c.Network == "slow-2g" || c.Network == "2g" {
		return TierSD
	}

	knownMemory := c.MemoryGB > 0
	if knownMemory && c.MemoryGB < 4 {
		return TierSD
	}
	moderateMemory := knownMemory && c.MemoryGB < 8

	if cpus < 4 || c.Network == "3g" {
		if moderateMemory {
			return TierSD
		}
		return TierHD
	}

	switch {
	case effectiveWidth >= 3000:
		if c.MemoryGB >= 8 {
			return Tier4K
		}
		return TierHD
	case effectiveWidth >= 1800:
		return TierHD
	case dpr > 2:
		return TierHD
	default:
		return TierSD
	}
}

// SystemCapabilities fills memory and CPU information from the host.
// Display properties come from the caller since only the window layer knows them.
func SystemCapabilities(screenWidth int, pixelRatio float64) Capabilities {
	caps := Capabilities{
		ScreenWidth: screenWidth,
		PixelRatio:  pixelRatio,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		caps.MemoryGB = float64(vm.Total) / (1 << 30)
	}
	if n, err := cpu.Counts(true); err == nil {
		caps.CPUs = n
	}
	return caps
}
