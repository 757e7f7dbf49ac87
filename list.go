package serial

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	sysClassTTY = "/sys/class/tty"
	devDir      = "/dev"
)

// Fallback device name patterns, used when sysfs is not mounted
var fallbackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
	regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
	regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
	regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
	regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
	regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
}

// ListPorts returns the serial ports present on the system, sorted.
//
// A tty counts as a serial port when sysfs links it to a backing device
// that is not a bare platform placeholder, which leaves out virtual
// terminals and pseudo-terminals. Without sysfs, /dev is scanned by name.
func ListPorts() ([]string, error) {
	return listPorts(sysClassTTY, devDir)
}

func listPorts(sysDir, devDir string) ([]string, error) {
	entries, err := os.ReadDir(sysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return scanDevDir(devDir)
		}
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		deviceLink := filepath.Join(sysDir, name, "device")
		if _, err := os.Stat(deviceLink); err != nil {
			continue
		}
		if subsystemOf(deviceLink) == "platform" {
			continue
		}

		fullPath := filepath.Join(devDir, name)
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// subsystemOf returns the sysfs subsystem name of a device directory
func subsystemOf(deviceDir string) string {
	target, err := filepath.EvalSymlinks(filepath.Join(deviceDir, "subsystem"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func scanDevDir(devDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		for _, pattern := range fallbackPatterns {
			if !pattern.MatchString(name) {
				continue
			}
			fullPath := filepath.Join(devDir, name)
			if isCharacterDevice(fullPath) {
				ports = append(ports, fullPath)
			}
			break
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ValidatePattern reports whether pattern is a well-formed glob
func ValidatePattern(pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return nil
}

// MatchAny reports whether devicePath matches at least one glob pattern.
// Malformed patterns never match.
func MatchAny(devicePath string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, devicePath); err == nil && ok {
			return true
		}
	}
	return false
}

// FilterPorts keeps the ports that match at least one include pattern and
// no exclude pattern. The result is sorted and free of duplicates.
func FilterPorts(ports, include, exclude []string) []string {
	seen := make(map[string]struct{}, len(ports))
	var filtered []string
	for _, p := range ports {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if MatchAny(p, include) && !MatchAny(p, exclude) {
			filtered = append(filtered, p)
		}
	}
	sort.Strings(filtered)
	return filtered
}

// PortInfo describes a serial port and, for USB devices, its USB metadata
type PortInfo struct {
	Name         string
	Path         string
	Description  string
	VendorID     string
	ProductID    string
	SerialNumber string
	Manufacturer string
	Product      string
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	return getPortInfo(portPath, sysClassTTY)
}

func getPortInfo(portPath, sysDir string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)
	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info, filepath.Join(sysDir, name, "device"))
	}

	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo walks up from the tty's sysfs device directory to the USB
// device node (the first ancestor carrying idVendor) and copies its
// descriptors into info. Missing attributes are left empty.
func enrichUSBInfo(info *PortInfo, deviceDir string) {
	dir, err := filepath.EvalSymlinks(deviceDir)
	if err != nil {
		return
	}

	for i := 0; i < 4 && dir != "/" && dir != "."; i++ {
		if vendor := readSysfsFile(filepath.Join(dir, "idVendor")); vendor != "" {
			info.VendorID = vendor
			info.ProductID = readSysfsFile(filepath.Join(dir, "idProduct"))
			info.SerialNumber = readSysfsFile(filepath.Join(dir, "serial"))
			info.Manufacturer = readSysfsFile(filepath.Join(dir, "manufacturer"))
			info.Product = readSysfsFile(filepath.Join(dir, "product"))
			return
		}
		dir = filepath.Dir(dir)
	}
}

// readSysfsFile returns the trimmed contents of a sysfs attribute, or ""
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
