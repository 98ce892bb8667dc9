package d21

import (
	"testing"

	"github.com/pkg/errors"
)

func TestResolveRegions(t *testing.T) {
	tests := []struct {
		blob   BlobID
		offset int
		size   int
		op     DebugOp
	}{
		{BLOB_ID_FIRMWARE, APP_FW_START, APP_FW_LENGTH, DEBUG_OP_READ_32B_THIS},
		{BLOB_ID_DEVICE_INFO_THIS, APP_FW_END, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_THIS},
		{BLOB_ID_DEVICE_BLOB_THIS, APP_FW_END + FLASH_ERASE_SIZE, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_THIS},
		{BLOB_ID_FIRMWARE_CRC_THIS, APP_FW_END - FLASH_ERASE_SIZE, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_THIS},
		{BLOB_ID_DEVICE_INFO_OTHER, APP_FW_END, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_OTHER},
		{BLOB_ID_DEVICE_BLOB_OTHER, APP_FW_END + FLASH_ERASE_SIZE, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_OTHER},
		{BLOB_ID_FIRMWARE_CRC_OTHER, APP_FW_END - FLASH_ERASE_SIZE, FLASH_ERASE_SIZE, DEBUG_OP_READ_32B_OTHER},
	}

	for _, tt := range tests {
		r, err := Resolve(tt.blob)
		if err != nil {
			t.Fatalf("%s: %v", tt.blob, err)
		}
		if r.Offset != tt.offset || r.Size != tt.size || r.ReadOp != tt.op {
			t.Errorf("%s: got offset %#x size %#x op %s", tt.blob, r.Offset, r.Size, r.ReadOp)
		}
	}
}

func TestRegionsFitFlash(t *testing.T) {
	for _, blob := range AllBlobIDs {
		r, err := Resolve(blob)
		if err != nil {
			t.Fatalf("%s: %v", blob, err)
		}
		if r.Offset < 0 || r.End() > FLASH_SIZE {
			t.Errorf("%s: region %#x-%#x exceeds flash", blob, r.Offset, r.End())
		}
	}

	fw, _ := Resolve(BLOB_ID_FIRMWARE)
	crc, _ := Resolve(BLOB_ID_FIRMWARE_CRC_THIS)
	if crc.End() != fw.End()+BLOB_CRC_LEN {
		t.Errorf("CRC record must end with the firmware CRC word, ends at %#x", crc.End())
	}
	if fw.End() != APP_FW_INFO {
		t.Errorf("firmware region must end at the info word, ends at %#x", fw.End())
	}
}

func TestUnsupportedBlobs(t *testing.T) {
	if BLOB_ID_FIRMWARE_OTHER.IsSupported() {
		t.Error("firmware on the other unit is not supported")
	}
	for _, id := range []BlobID{0x04, 0x10, 0xff} {
		if id.IsSupported() {
			t.Errorf("%#02x must not be supported", byte(id))
		}
		if _, err := Resolve(id); errors.Cause(err) != ErrUnsupportedBlob {
			t.Errorf("%#02x: expected ErrUnsupportedBlob, got %v", byte(id), err)
		}
	}
}

func TestUnitBlobs(t *testing.T) {
	if UnitPrimary.DeviceInfoBlob() != BLOB_ID_DEVICE_INFO_THIS || UnitSecondary.DeviceInfoBlob() != BLOB_ID_DEVICE_INFO_OTHER {
		t.Error("device info blob mapping")
	}
	if UnitSecondary.FirmwareCRCBlob() != BLOB_ID_FIRMWARE_CRC_OTHER || UnitSecondary.DeviceBlob() != BLOB_ID_DEVICE_BLOB_OTHER {
		t.Error("secondary blob mapping")
	}
	if BLOB_ID_DEVICE_BLOB_OTHER.Unit() != UnitSecondary || BLOB_ID_FIRMWARE.Unit() != UnitPrimary {
		t.Error("blob unit mapping")
	}
	if UnitSecondary.ReadHidOp() != DEBUG_OP_READ_HID_OTHER {
		t.Error("HID state op mapping")
	}
}
