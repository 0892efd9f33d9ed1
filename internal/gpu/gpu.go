package gpu

import (
	"context"
	"errors"
	"fmt"
)

// Vendor identifies a GPU vendor.
type Vendor string

const (
	VendorNVIDIA Vendor = "nvidia"
	VendorAMD    Vendor = "amd"
	VendorIntel  Vendor = "intel"
	VendorOther  Vendor = "other"
)

// Device is one GPU as seen by a prober.
type Device struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Vendor Vendor `json:"vendor"`

	// Source names the prober that reported the device.
	Source string `json:"source"`

	// Temperature (°C) and PowerWatts are zero when the source does not report them.
	Temperature int     `json:"temperature_c,omitempty"`
	PowerWatts  float64 `json:"power_w,omitempty"`
}

// Info summarises the GPUs present on the host.
type Info struct {
	Devices   []Device `json:"devices"`
	HasAMD    bool     `json:"has_amd"`
	HasNVIDIA bool     `json:"has_nvidia"`
	Names     []string `json:"names"`
}

// Empty reports whether no GPU was found.
func (i Info) Empty() bool {
	return len(i.Devices) == 0
}

// NewInfo derives the summary fields from devs.
func NewInfo(devs []Device) Info {
	info := Info{Devices: devs}
	for _, d := range devs {
		switch d.Vendor {
		case VendorAMD:
			info.HasAMD = true
		case VendorNVIDIA:
			info.HasNVIDIA = true
		}
		info.Names = append(info.Names, d.Name)
	}
	return info
}

// Prober discovers GPUs.
//
// A prober whose tool or interface is absent on the host returns an empty
// Info and no error; errors mean the source exists but could not be read.
type Prober interface {
	Probe(ctx context.Context) (Info, error)
}

// Multi combines probers. For each vendor, devices come from the first
// prober that reports that vendor, so a GPU seen by both nvidia-smi and
// sysfs is listed once with the richer nvidia-smi details when that
// prober comes first. Errors are joined; partial results are kept.
type Multi []Prober

// Probe runs every prober in order.
func (m Multi) Probe(ctx context.Context) (Info, error) {
	var (
		devs  []Device
		errs  []error
		owner = map[Vendor]int{}
	)

	for i, p := range m {
		info, err := p.Probe(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("probe %d: %w", i, err))
		}
		for _, d := range info.Devices {
			if first, ok := owner[d.Vendor]; ok && first != i {
				continue
			}
			owner[d.Vendor] = i
			devs = append(devs, d)
		}
	}

	return NewInfo(devs), errors.Join(errs...)
}

// Default returns the host prober: nvidia-smi first, then sysfs DRM.
func Default() Prober {
	return Multi{&NvidiaSMI{}, &SysfsDRM{}}
}
