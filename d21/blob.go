package d21

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	FLASH_SIZE         = 256 * 1024
	FLASH_ERASE_SIZE   = 256
	FIRMWARE_PAGE_SIZE = 64
	APP_FW_START       = 8 * 1024
	APP_FW_END         = FLASH_SIZE - 4*1024
	APP_FW_INFO        = APP_FW_END - 4
	APP_FW_LENGTH      = APP_FW_INFO - APP_FW_START

	// stored blob CRC lives in the first (or, for CRC records, the last) 4 bytes
	BLOB_CRC_LEN = 4
)

type BlobID byte

const (
	BLOB_ID_FIRMWARE          BlobID = 0
	BLOB_ID_DEVICE_INFO_THIS  BlobID = 1
	BLOB_ID_DEVICE_BLOB_THIS  BlobID = 2
	BLOB_ID_FIRMWARE_CRC_THIS BlobID = 3

	blobIDOther BlobID = 0x08

	BLOB_ID_FIRMWARE_OTHER     = blobIDOther + BLOB_ID_FIRMWARE // not supported by the firmware
	BLOB_ID_DEVICE_INFO_OTHER  = blobIDOther + BLOB_ID_DEVICE_INFO_THIS
	BLOB_ID_DEVICE_BLOB_OTHER  = blobIDOther + BLOB_ID_DEVICE_BLOB_THIS
	BLOB_ID_FIRMWARE_CRC_OTHER = blobIDOther + BLOB_ID_FIRMWARE_CRC_THIS
)

// AllBlobIDs lists every blob the addressing model knows about.
var AllBlobIDs = []BlobID{
	BLOB_ID_FIRMWARE,
	BLOB_ID_DEVICE_INFO_THIS,
	BLOB_ID_DEVICE_BLOB_THIS,
	BLOB_ID_FIRMWARE_CRC_THIS,
	BLOB_ID_FIRMWARE_OTHER,
	BLOB_ID_DEVICE_INFO_OTHER,
	BLOB_ID_DEVICE_BLOB_OTHER,
	BLOB_ID_FIRMWARE_CRC_OTHER,
}

func (b BlobID) kind() BlobID { return b &^ blobIDOther }

// Unit returns the MCU the blob belongs to.
func (b BlobID) Unit() Unit {
	if b&blobIDOther != 0 {
		return UnitSecondary
	}
	return UnitPrimary
}

func (b BlobID) IsFirmware() bool { return b.kind() == BLOB_ID_FIRMWARE }

func (b BlobID) IsFirmwareCRC() bool { return b.kind() == BLOB_ID_FIRMWARE_CRC_THIS }

// IsSupported is false for ids the device firmware does not implement.
func (b BlobID) IsSupported() bool {
	return b.valid() && b != BLOB_ID_FIRMWARE_OTHER
}

func (b BlobID) valid() bool {
	return b&^(blobIDOther|0x03) == 0
}

func (b BlobID) String() string {
	if !b.valid() {
		return fmt.Sprintf("unknown blob %#02x", byte(b))
	}
	var name string
	switch b.kind() {
	case BLOB_ID_FIRMWARE:
		name = "firmware"
	case BLOB_ID_DEVICE_INFO_THIS:
		name = "device info"
	case BLOB_ID_DEVICE_BLOB_THIS:
		name = "device blob"
	case BLOB_ID_FIRMWARE_CRC_THIS:
		name = "firmware CRC"
	}
	return fmt.Sprintf("%s (%s)", name, b.Unit())
}

// BlobRegion is the flash window of a blob and the debug read op that reaches it.
type BlobRegion struct {
	Blob   BlobID
	Offset int
	Size   int
	ReadOp DebugOp
}

func (r BlobRegion) End() int { return r.Offset + r.Size }

// Resolve maps a blob to its flash region. Offsets are the same on both units, only the
// read op differs.
func Resolve(b BlobID) (region BlobRegion, err error) {
	if !b.valid() {
		return region, errors.Wrapf(ErrUnsupportedBlob, "blob id %#02x", byte(b))
	}

	region.Blob = b
	region.Size = FLASH_ERASE_SIZE
	switch b.kind() {
	case BLOB_ID_FIRMWARE:
		region.Offset = APP_FW_START
		region.Size = APP_FW_LENGTH
	case BLOB_ID_FIRMWARE_CRC_THIS:
		region.Offset = APP_FW_END - FLASH_ERASE_SIZE
	case BLOB_ID_DEVICE_INFO_THIS:
		region.Offset = APP_FW_END
	case BLOB_ID_DEVICE_BLOB_THIS:
		// stored right after device info
		region.Offset = APP_FW_END + FLASH_ERASE_SIZE
	}

	if b.Unit() == UnitSecondary {
		region.ReadOp = DEBUG_OP_READ_32B_OTHER
	} else {
		region.ReadOp = DEBUG_OP_READ_32B_THIS
	}
	return region, nil
}

// Unit selects one of the two MCUs of the controller.
type Unit int

const (
	UnitPrimary Unit = iota
	UnitSecondary
)

var Units = []Unit{UnitPrimary, UnitSecondary}

func (u Unit) String() string {
	switch u {
	case UnitPrimary:
		return "primary"
	case UnitSecondary:
		return "secondary"
	}
	return fmt.Sprintf("unit %d", int(u))
}

func (u Unit) blob(kind BlobID) BlobID {
	if u == UnitSecondary {
		return kind | blobIDOther
	}
	return kind
}

func (u Unit) DeviceInfoBlob() BlobID { return u.blob(BLOB_ID_DEVICE_INFO_THIS) }

func (u Unit) DeviceBlob() BlobID { return u.blob(BLOB_ID_DEVICE_BLOB_THIS) }

func (u Unit) FirmwareCRCBlob() BlobID { return u.blob(BLOB_ID_FIRMWARE_CRC_THIS) }

func (u Unit) ReadHidOp() DebugOp {
	if u == UnitSecondary {
		return DEBUG_OP_READ_HID_OTHER
	}
	return DEBUG_OP_READ_HID_THIS
}
