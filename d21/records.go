package d21

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	DEVICE_INFO_MAGIC     = 0xbeefface
	DEVICE_HEADER_VERSION = 1
	MAX_SERIAL_LENGTH     = 32

	deviceInfoHeaderLen = 16
	hidStateLen         = 23
	userRowLen          = 8
)

/*
Device info blob, little endian:
guint32		crc;
guint32		magic;		DEVICE_INFO_MAGIC
guint32		version;	DEVICE_HEADER_VERSION
guint32		hardware_id;
gchar		serial[32];	NUL terminated
*/
type DeviceInfo struct {
	CRC        uint32
	Magic      uint32
	Version    uint32
	HardwareID uint32
	Serial     string
	HasSerial  bool
}

func (d *DeviceInfo) String() string {
	serial := "None"
	if d.HasSerial {
		serial = d.Serial
	}
	return fmt.Sprintf("Device info HW ID: %d, serial: %s (magic %#08x, version %d)", d.HardwareID, serial, d.Magic, d.Version)
}

// Valid reports whether magic and version match the expected header.
func (d *DeviceInfo) Valid() bool {
	return d.Magic == DEVICE_INFO_MAGIC && d.Version == DEVICE_HEADER_VERSION
}

func (d *DeviceInfo) FromWire(blob []byte) (err error) {
	if len(blob) < deviceInfoHeaderLen {
		return errors.Errorf("device info blob too short (%d bytes)", len(blob))
	}
	d.CRC = binary.LittleEndian.Uint32(blob[0:4])
	d.Magic = binary.LittleEndian.Uint32(blob[4:8])
	d.Version = binary.LittleEndian.Uint32(blob[8:12])
	d.HardwareID = binary.LittleEndian.Uint32(blob[12:16])
	d.Serial, d.HasSerial = "", false
	if !d.Valid() {
		return nil
	}

	raw := blob[deviceInfoHeaderLen:]
	if len(raw) > MAX_SERIAL_LENGTH {
		raw = raw[:MAX_SERIAL_LENGTH]
	}
	end := bytes.IndexByte(raw, 0x00)
	if end < 0 || !isASCII(raw[:end]) {
		return nil
	}
	d.Serial, d.HasSerial = string(raw[:end]), true
	return nil
}

// ToWire encodes the record with a zero CRC, the bootloader fills it in on completion.
func (d *DeviceInfo) ToWire() (blob []byte, err error) {
	if d.HasSerial {
		if err := checkSerial(d.Serial); err != nil {
			return nil, err
		}
	}
	blob = make([]byte, deviceInfoHeaderLen, deviceInfoHeaderLen+len(d.Serial)+1)
	binary.LittleEndian.PutUint32(blob[4:8], DEVICE_INFO_MAGIC)
	binary.LittleEndian.PutUint32(blob[8:12], DEVICE_HEADER_VERSION)
	binary.LittleEndian.PutUint32(blob[12:16], d.HardwareID)
	// Without a serial the field stays erased, which reads back as absent.
	if d.HasSerial {
		blob = append(blob, d.Serial...)
		blob = append(blob, 0x00)
	}
	return blob, nil
}

// checkSerial accepts ASCII serials that fit the field together with their NUL.
func checkSerial(serial string) error {
	if len(serial) >= MAX_SERIAL_LENGTH {
		return errors.Wrapf(ErrSerialTooLong, "%d bytes, max %d", len(serial), MAX_SERIAL_LENGTH-1)
	}
	if !isASCII([]byte(serial)) {
		return errors.New("serial number must be ASCII")
	}
	return nil
}

func ParseDeviceInfo(blob []byte) (DeviceInfo, error) {
	var d DeviceInfo
	err := d.FromWire(blob)
	return d, err
}

/*
Opaque device blob (MTE blob):
guint32		crc;		over the rest of the region
guint8		empty;		0x00 if data is present
gchar		data[];		NUL terminated
*/
type MteBlob struct {
	CRC   uint32
	Data  string
	Valid bool
}

func (m *MteBlob) FromWire(blob []byte) (err error) {
	if len(blob) < BLOB_CRC_LEN+1 {
		return errors.Errorf("device blob too short (%d bytes)", len(blob))
	}
	m.CRC = binary.LittleEndian.Uint32(blob[:BLOB_CRC_LEN])
	rest := blob[BLOB_CRC_LEN:]
	m.Data, m.Valid = "", false
	if rest[0] != 0x00 || ComputeCRC(rest, len(rest)) != m.CRC {
		return nil
	}
	data := rest[1:]
	if end := bytes.IndexByte(data, 0x00); end >= 0 {
		data = data[:end]
	}
	if !isASCII(data) {
		return nil
	}
	m.Data, m.Valid = string(data), true
	return nil
}

func ParseMteBlob(blob []byte) (MteBlob, error) {
	var m MteBlob
	err := m.FromWire(blob)
	return m, err
}

// NewMteBlobPayload builds the upload image for s: placeholder CRC, present flag, data, NUL.
func NewMteBlobPayload(s string) ([]byte, error) {
	if !isASCII([]byte(s)) {
		return nil, errors.New("blob data must be ASCII")
	}
	if BLOB_CRC_LEN+1+len(s)+1 > FLASH_ERASE_SIZE {
		return nil, errors.Errorf("blob data too long (%d bytes)", len(s))
	}
	payload := []byte{0xff, 0xff, 0xff, 0xff, 0x00}
	payload = append(payload, s...)
	return append(payload, 0x00), nil
}

type BootloaderState byte

const (
	STATE_IDLE               BootloaderState = 0
	STATE_ERASING            BootloaderState = 1
	STATE_PROGRAMMING        BootloaderState = 2
	STATE_PROGRAMMING_CRC    BootloaderState = 3
	STATE_ERROR              BootloaderState = 4
	STATE_RESETTING          BootloaderState = 5
	STATE_CRCING             BootloaderState = 6
	STATE_WAITING_OTHER      BootloaderState = 7
	STATE_WAITING_OTHER_CRC  BootloaderState = 8
	STATE_RESETTING_INTO_ISP BootloaderState = 9
	STATE_READING_BLOB_OTHER BootloaderState = 10
	STATE_SPI_LOSS_OF_SYNC   BootloaderState = 11
	STATE_GET_ATTRIBUTES     BootloaderState = 12
	STATE_UNKNOWN            BootloaderState = 0xfe
	STATE_DISCONNECTED       BootloaderState = 0xff
)

func (s BootloaderState) String() string {
	switch s {
	case STATE_IDLE:
		return "idle"
	case STATE_ERASING:
		return "erasing"
	case STATE_PROGRAMMING:
		return "programming"
	case STATE_PROGRAMMING_CRC:
		return "programming CRC"
	case STATE_ERROR:
		return "error"
	case STATE_RESETTING:
		return "resetting"
	case STATE_CRCING:
		return "CRC-ing"
	case STATE_WAITING_OTHER:
		return "waiting OTHER"
	case STATE_WAITING_OTHER_CRC:
		return "waiting OTHER CRC"
	case STATE_RESETTING_INTO_ISP:
		return "resetting into ISP"
	case STATE_READING_BLOB_OTHER:
		return "reading blob OTHER"
	case STATE_SPI_LOSS_OF_SYNC:
		return "SPI loss of sync"
	case STATE_GET_ATTRIBUTES:
		return "get attributes"
	case STATE_UNKNOWN:
		return "unknown"
	case STATE_DISCONNECTED:
		return "disconnected"
	}
	return fmt.Sprintf("state %d", byte(s))
}

type BootloaderReason byte

func (r BootloaderReason) String() string {
	switch r {
	case 0x01:
		return "magic key combo"
	case 0x02:
		return "requested by the app"
	case 0x03:
		return "left/right handshake"
	case 0x0b:
		return "bad app start address"
	case 0x0c:
		return "bad app stack address"
	case 0x0d:
		return "bad app CRC"
	}
	return "unknown"
}

/*
Debug HID state of one MCU:
guint8		epoch;
guint8		state;
guint32		crc;
guint32		unique_id[4];
guint8		reason;
guint8		user_row[8];
*/
type HidState struct {
	Epoch    byte
	State    BootloaderState
	CRC      uint32
	UniqueID [4]uint32
	Reason   BootloaderReason
	UserRow  [userRowLen]byte
}

func (h *HidState) FromWire(blob []byte) (err error) {
	if len(blob) < hidStateLen+userRowLen {
		return errors.Wrapf(ErrBadReply, "HID state too short (%d bytes)", len(blob))
	}
	h.Epoch = blob[0]
	h.State = BootloaderState(blob[1])
	h.CRC = binary.LittleEndian.Uint32(blob[2:6])
	for i := range h.UniqueID {
		h.UniqueID[i] = binary.LittleEndian.Uint32(blob[6+4*i:])
	}
	h.Reason = BootloaderReason(blob[22])
	copy(h.UserRow[:], blob[hidStateLen:hidStateLen+userRowLen])
	return nil
}

func (h *HidState) String() string {
	return fmt.Sprintf("MCU unique ID: %08X %08X %08X %08X\nMCU user row: % 02X\nMCU bootloader mode reason: %s\nMCU state: %s",
		h.UniqueID[0], h.UniqueID[1], h.UniqueID[2], h.UniqueID[3], h.UserRow[:], h.Reason, h.State)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7f {
			return false
		}
	}
	return true
}
