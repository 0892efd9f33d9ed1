package gpu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultDRMRoot is where the kernel exposes DRM devices.
const DefaultDRMRoot = "/sys/class/drm"

// PCI vendor IDs.
const (
	pciVendorAMD    = "0x1002"
	pciVendorNVIDIA = "0x10de"
	pciVendorIntel  = "0x8086"
)

// cardName matches primary DRM nodes ("card0") and skips connectors ("card0-DP-1").
var cardName = regexp.MustCompile(`^card(\d+)$`)

// SysfsDRM probes GPUs by reading PCI vendor IDs from sysfs.
// It sees every vendor but reports no names beyond the PCI IDs.
type SysfsDRM struct {
	// Root defaults to DefaultDRMRoot.
	Root string
}

// Probe scans Root/card*/device/vendor. A missing Root means no GPUs.
func (s *SysfsDRM) Probe(ctx context.Context) (Info, error) {
	root := s.Root
	if root == "" {
		root = DefaultDRMRoot
	}

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", root, err)
	}

	var devs []Device
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Info{}, err
		}
		m := cardName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])

		devDir := filepath.Join(root, e.Name(), "device")
		vendorID, err := readID(filepath.Join(devDir, "vendor"))
		if err != nil {
			continue
		}
		deviceID, _ := readID(filepath.Join(devDir, "device"))

		vendor := vendorFromPCI(vendorID)
		devs = append(devs, Device{
			Index:  idx,
			Name:   fmt.Sprintf("%s %s:%s", vendor, strings.TrimPrefix(vendorID, "0x"), strings.TrimPrefix(deviceID, "0x")),
			Vendor: vendor,
			Source: "sysfs",
		})
	}

	sort.Slice(devs, func(i, j int) bool { return devs[i].Index < devs[j].Index })
	return NewInfo(devs), nil
}

func readID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}

func vendorFromPCI(id string) Vendor {
	switch id {
	case pciVendorAMD:
		return VendorAMD
	case pciVendorNVIDIA:
		return VendorNVIDIA
	case pciVendorIntel:
		return VendorIntel
	default:
		return VendorOther
	}
}
