package d21

import "github.com/pkg/errors"

var (
	// ErrBadReply reports a malformed or unexpected frame from the device.
	ErrBadReply = errors.New("bad reply from bootloader")
	// ErrUpdate reports a device side ERROR status during erase or programming.
	ErrUpdate = errors.New("bootloader reported update error")
	// ErrTimeout reports an exhausted retry budget while polling the device.
	ErrTimeout = errors.New("timeout waiting for bootloader")
	// ErrVerify reports a mismatch between written and read back data.
	ErrVerify = errors.New("programmed data mismatch")

	ErrUnsupportedBlob  = errors.New("unsupported blob")
	ErrFirmwareTooLarge = errors.New("firmware image exceeds application flash")
	ErrSerialTooLong    = errors.New("serial number too long")
	ErrNoDevice         = errors.New("no D21 bootloader device found")
)
