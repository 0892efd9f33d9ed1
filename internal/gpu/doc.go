// Package gpu discovers the GPUs on the host for pre-flight checks.
//
// Two probers are provided: NvidiaSMI (names, temperature and power from
// nvidia-smi) and SysfsDRM (PCI vendor IDs from /sys/class/drm, covering
// AMD and Intel too). Default combines them.
package gpu
