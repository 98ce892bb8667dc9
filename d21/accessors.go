package d21

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Attributes requests the attribute list of the running bootloader.
func (s *Session) Attributes(ctx context.Context) (*AttributesReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.send(&GetAttributesRequest{}); err != nil {
		return nil, err
	}
	reply, err := s.recv()
	if err != nil {
		return nil, err
	}
	attrs, ok := reply.(*AttributesReply)
	if !ok {
		return nil, errors.Wrapf(ErrBadReply, "expected attributes, got %v", reply)
	}
	return attrs, nil
}

// FirmwareBuildTime returns the build timestamp (unix seconds) reported by the device.
func (s *Session) FirmwareBuildTime(ctx context.Context) (buildTime uint32, ok bool, err error) {
	attrs, err := s.Attributes(ctx)
	if err != nil {
		return 0, false, err
	}
	buildTime, ok = attrs.Lookup(HID_ATTRIB_FIRMWARE_BUILD_TIME)
	return buildTime, ok, nil
}

func (s *Session) DeviceInfo(ctx context.Context, unit Unit) (DeviceInfo, error) {
	blob, err := s.DownloadBlob(ctx, unit.DeviceInfoBlob(), DefaultBlobSize)
	if err != nil {
		return DeviceInfo{}, err
	}
	return ParseDeviceInfo(blob)
}

func (s *Session) writeDeviceInfo(ctx context.Context, unit Unit, info DeviceInfo) error {
	blob, err := info.ToWire()
	if err != nil {
		return err
	}
	return s.UploadBlob(ctx, unit.DeviceInfoBlob(), blob)
}

// SetSerial rewrites the serial of unit, keeping its hardware ID.
func (s *Session) SetSerial(ctx context.Context, unit Unit, serial string) error {
	if err := checkSerial(serial); err != nil {
		return err
	}
	current, err := s.DeviceInfo(ctx, unit)
	if err != nil {
		return err
	}
	s.log.WithField("unit", unit).Infof("setting serial %q", serial)
	return s.writeDeviceInfo(ctx, unit, DeviceInfo{
		HardwareID: current.HardwareID,
		Serial:     serial,
		HasSerial:  true,
	})
}

// SetHardwareID rewrites the hardware ID of unit, keeping its serial.
func (s *Session) SetHardwareID(ctx context.Context, unit Unit, hwID uint32) error {
	current, err := s.DeviceInfo(ctx, unit)
	if err != nil {
		return err
	}
	s.log.WithField("unit", unit).Infof("setting hardware ID %d", hwID)
	return s.writeDeviceInfo(ctx, unit, DeviceInfo{
		HardwareID: hwID,
		Serial:     current.Serial,
		HasSerial:  current.HasSerial,
	})
}

func (s *Session) MteBlob(ctx context.Context, unit Unit) (MteBlob, error) {
	blob, err := s.DownloadBlob(ctx, unit.DeviceBlob(), DefaultBlobSize)
	if err != nil {
		return MteBlob{}, err
	}
	return ParseMteBlob(blob)
}

func (s *Session) SetMteBlob(ctx context.Context, unit Unit, data string) error {
	payload, err := NewMteBlobPayload(data)
	if err != nil {
		return err
	}
	s.log.WithField("unit", unit).Infof("setting device blob %q", data)
	return s.UploadBlob(ctx, unit.DeviceBlob(), payload)
}

// HidState reads the debug state record of unit.
func (s *Session) HidState(ctx context.Context, unit Unit) (HidState, error) {
	var h HidState
	raw, err := s.readDebugData(ctx, unit.ReadHidOp(), APP_FW_LENGTH, 0)
	if err != nil {
		return h, err
	}
	err = h.FromWire(raw)
	return h, err
}

type UnitInfo struct {
	Unit       Unit
	DeviceInfo DeviceInfo
	HidState   HidState
}

type BootloaderInfo struct {
	BuildTime    uint32
	HasBuildTime bool
	Units        []UnitInfo
}

func (b *BootloaderInfo) String() string {
	res := ""
	if b.HasBuildTime {
		res += fmt.Sprintf("Firmware Build Time: %#x (%s UTC)\n", b.BuildTime,
			time.Unix(int64(b.BuildTime), 0).UTC().Format("2006-01-02 15:04:05"))
	} else {
		res += "Firmware Build Time: None\n"
	}
	for _, u := range b.Units {
		serial := "None"
		if u.DeviceInfo.HasSerial {
			serial = u.DeviceInfo.Serial
		}
		res += fmt.Sprintf("\n ** %s Unit **\n", unitTitle(u.Unit))
		res += fmt.Sprintf("Stored unit serial: %s\n", serial)
		res += fmt.Sprintf("Stored hardware ID: %d\n", u.DeviceInfo.HardwareID)
		res += u.HidState.String() + "\n"
	}
	return res
}

func unitTitle(u Unit) string {
	switch u {
	case UnitPrimary:
		return "Primary"
	case UnitSecondary:
		return "Secondary"
	}
	return u.String()
}

// Info collects build time, device info and debug state of both units.
func (s *Session) Info(ctx context.Context) (*BootloaderInfo, error) {
	info := &BootloaderInfo{}
	var err error
	if info.BuildTime, info.HasBuildTime, err = s.FirmwareBuildTime(ctx); err != nil {
		return nil, errors.Wrap(err, "firmware build time")
	}
	for _, unit := range Units {
		u := UnitInfo{Unit: unit}
		if u.DeviceInfo, err = s.DeviceInfo(ctx, unit); err != nil {
			return nil, errors.Wrapf(err, "%s device info", unit)
		}
		if u.HidState, err = s.HidState(ctx, unit); err != nil {
			return nil, errors.Wrapf(err, "%s HID state", unit)
		}
		info.Units = append(info.Units, u)
	}
	return info, nil
}
