package d21

import (
	"fmt"
)

const (
	VID               uint16 = 0x28de
	PID_BOOTLOADER    uint16 = 0x1003
	PID_APP           uint16 = 0x1204
	VENDOR_USAGE_PAGE uint16 = 0xff00
	APP_HID_INTERFACE int    = 2
)

// Transport is a HID feature report channel. Reports include the leading report ID byte.
type Transport interface {
	SendFeatureReport(report []byte) error
	// GetFeatureReport fills report, report[0] has to hold the requested report ID.
	GetFeatureReport(report []byte) (n int, err error)
	Close() error
}

// HIDDevice describes an enumerated HID interface.
type HIDDevice struct {
	Path      string
	VendorID  uint16
	ProductID uint16
	Serial    string
	Product   string
	Interface int
	UsagePage uint16
}

func (d HIDDevice) String() string {
	return fmt.Sprintf("%s: ID %04x:%04x interface %d usage page %#04x %s", d.Path, d.VendorID, d.ProductID, d.Interface, d.UsagePage, d.Product)
}

// Bus enumerates and opens devices on one USB backend.
type Bus interface {
	Enumerate(vid, pid uint16) ([]HIDDevice, error)
	Open(dev HIDDevice) (Transport, error)
	Close() error
}

// SelectVendorInterface drops all but the vendor interface when the app firmware exposes
// several HID interfaces.
func SelectVendorInterface(devs []HIDDevice) []HIDDevice {
	if len(devs) <= 1 {
		return devs
	}
	var res []HIDDevice
	for _, d := range devs {
		if d.UsagePage >= VENDOR_USAGE_PAGE || d.Interface == APP_HID_INTERFACE {
			res = append(res, d)
		}
	}
	return res
}
