package d21

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sstallion/go-hid"
)

// HIDAPIBus uses hidapi, which works with the OS HID driver on every platform.
type HIDAPIBus struct{}

func NewHIDAPIBus() (*HIDAPIBus, error) {
	if err := hid.Init(); err != nil {
		return nil, errors.Wrap(err, "init hidapi")
	}
	return &HIDAPIBus{}, nil
}

func (b *HIDAPIBus) Enumerate(vid, pid uint16) (devs []HIDDevice, err error) {
	err = hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		devs = append(devs, HIDDevice{
			Path:      info.Path,
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Serial:    info.SerialNbr,
			Product:   info.ProductStr,
			Interface: info.InterfaceNbr,
			UsagePage: info.UsagePage,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate %04x:%04x", vid, pid)
	}
	return devs, nil
}

func (b *HIDAPIBus) Open(dev HIDDevice) (Transport, error) {
	d, err := hid.OpenPath(dev.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dev.Path)
	}
	log.WithField("path", dev.Path).Debug("opened HID device")
	return &hidapiTransport{dev: d}, nil
}

func (b *HIDAPIBus) Close() error {
	return hid.Exit()
}

type hidapiTransport struct {
	dev *hid.Device
}

func (t *hidapiTransport) SendFeatureReport(report []byte) error {
	_, err := t.dev.SendFeatureReport(report)
	return err
}

func (t *hidapiTransport) GetFeatureReport(report []byte) (int, error) {
	return t.dev.GetFeatureReport(report)
}

func (t *hidapiTransport) Close() error {
	return t.dev.Close()
}
