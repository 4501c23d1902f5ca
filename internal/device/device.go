// Package device detects whether the robot hardware is attached.
//
// The robot enumerates as a USB serial adapter with a fixed vendor and
// product ID. Detection is a cheap local sysfs scan, suitable for
// polling; no device is opened.
package device

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// VendorID is the robot's USB serial adapter vendor ID.
	VendorID = "1a86"
	// ProductID is the robot's USB serial adapter product ID.
	ProductID = "55d3"

	defaultSysfsRoot = "/sys/bus/usb/devices"
)

// Detector reports whether the robot hardware is physically connected.
type Detector interface {
	Present() bool
}

// USBDetector scans sysfs for a USB device matching the robot's
// vendor/product ID pair.
type USBDetector struct {
	root      string
	vendorID  string
	productID string
	logger    *slog.Logger
}

// Option customizes a USBDetector.
type Option func(*USBDetector)

// WithSysfsRoot overrides the sysfs scan root (tests).
func WithSysfsRoot(root string) Option {
	return func(d *USBDetector) { d.root = root }
}

// WithIDs overrides the matched vendor/product pair.
func WithIDs(vendorID, productID string) Option {
	return func(d *USBDetector) {
		d.vendorID = vendorID
		d.productID = productID
	}
}

// WithLogger sets the detector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *USBDetector) { d.logger = logger }
}

// NewUSB creates a detector for the robot's USB IDs.
func NewUSB(opts ...Option) *USBDetector {
	d := &USBDetector{
		root:      defaultSysfsRoot,
		vendorID:  VendorID,
		productID: ProductID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Present scans the sysfs device list for a matching vendor/product
// pair. Any read failure counts as absent: a machine without the sysfs
// tree simply has no robot attached.
func (d *USBDetector) Present() bool {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		d.logger.Debug("usb scan unavailable", "root", d.root, "error", err)
		return false
	}

	for _, entry := range entries {
		dir := filepath.Join(d.root, entry.Name())

		vendor, err := readID(filepath.Join(dir, "idVendor"))
		if err != nil || vendor != d.vendorID {
			continue
		}

		product, err := readID(filepath.Join(dir, "idProduct"))
		if err == nil && product == d.productID {
			return true
		}
	}

	return false
}

func readID(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path under the fixed sysfs root
	if err != nil {
		return "", err
	}

	return strings.ToLower(strings.TrimSpace(string(data))), nil
}
