package d21

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	usbRequestTypeClassOut = 0x21 //bit7: Host to device, bit6..5: Class: 0x1, bit4..0: Interface: 0x01
	usbRequestTypeClassIn  = 0xa1 //bit7: Device to host, bit6..5: Class: 0x1, bit4..0: Interface: 0x01
	hidRequestGetReport    = 0x01
	hidRequestSetReport    = 0x09
	hidReportTypeFeature   = 0x0300
)

// LibUSBBus drives HID feature reports via control transfers. The kernel HID driver gets
// detached while a device is open.
type LibUSBBus struct {
	UsbCtx *gousb.Context
}

func NewLibUSBBus() (*LibUSBBus, error) {
	return &LibUSBBus{UsbCtx: gousb.NewContext()}, nil
}

func usbPath(desc *gousb.DeviceDesc, iface int) string {
	return fmt.Sprintf("usb:%03d:%03d:%d", desc.Bus, desc.Address, iface)
}

func (b *LibUSBBus) Enumerate(vid, pid uint16) (devs []HIDDevice, err error) {
	_, err = b.UsbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(vid) || desc.Product != gousb.ID(pid) {
			return false
		}
		for _, cfg := range desc.Configs {
			for _, ifaceDesc := range cfg.Interfaces {
				for _, setting := range ifaceDesc.AltSettings {
					if setting.Alternate != 0 || setting.Class != gousb.ClassHID {
						continue
					}
					devs = append(devs, HIDDevice{
						Path:      usbPath(desc, setting.Number),
						VendorID:  vid,
						ProductID: pid,
						Interface: setting.Number,
					})
				}
			}
		}
		// never open while enumerating
		return false
	})
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate %04x:%04x", vid, pid)
	}
	return devs, nil
}

func (b *LibUSBBus) Open(info HIDDevice) (Transport, error) {
	devs, err := b.UsbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(info.VendorID) && desc.Product == gousb.ID(info.ProductID) &&
			usbPath(desc, info.Interface) == info.Path
	})
	if len(devs) == 0 {
		if err == nil {
			err = ErrNoDevice
		}
		return nil, errors.Wrapf(err, "open %s", info.Path)
	}
	for _, d := range devs[1:] {
		d.Close()
	}

	t := &libusbTransport{Dev: devs[0]}
	t.Dev.SetAutoDetach(true)

	t.Config, err = t.Dev.Config(1)
	if err != nil {
		t.Close()
		return nil, errors.Wrap(err, "couldn't retrieve config 1 of bootloader device")
	}

	t.IfaceHID, err = t.Config.Interface(info.Interface, 0)
	if err != nil {
		t.Close()
		return nil, errors.Wrapf(err, "couldn't access HID USB interface %d", info.Interface)
	}
	log.WithField("path", info.Path).Debugf("accessing device on HID interface: %s", t.IfaceHID.String())
	return t, nil
}

func (b *LibUSBBus) Close() error {
	if b.UsbCtx != nil {
		return b.UsbCtx.Close()
	}
	return nil
}

type libusbTransport struct {
	Dev      *gousb.Device
	Config   *gousb.Config
	IfaceHID *gousb.Interface
}

// Report ID 0 means unnumbered reports, the ID byte itself is not transferred.
func (t *libusbTransport) SendFeatureReport(report []byte) error {
	if len(report) == 0 {
		return errors.New("empty feature report")
	}
	data := report
	if report[0] == 0x00 {
		data = report[1:]
	}
	_, err := t.Dev.Control(
		usbRequestTypeClassOut,
		hidRequestSetReport,
		hidReportTypeFeature|uint16(report[0]),
		uint16(t.IfaceHID.Setting.Number),
		data,
	)
	return err
}

func (t *libusbTransport) GetFeatureReport(report []byte) (int, error) {
	if len(report) == 0 {
		return 0, errors.New("empty feature report buffer")
	}
	data, skip := report, 0
	if report[0] == 0x00 {
		data, skip = report[1:], 1
	}
	n, err := t.Dev.Control(
		usbRequestTypeClassIn,
		hidRequestGetReport,
		hidReportTypeFeature|uint16(report[0]),
		uint16(t.IfaceHID.Setting.Number),
		data,
	)
	if err != nil {
		return 0, err
	}
	return n + skip, nil
}

func (t *libusbTransport) Close() error {
	if t.IfaceHID != nil {
		t.IfaceHID.Close()
	}
	if t.Config != nil {
		t.Config.Close()
	}
	if t.Dev != nil {
		t.Dev.SetAutoDetach(false)
		return t.Dev.Close()
	}
	return nil
}
