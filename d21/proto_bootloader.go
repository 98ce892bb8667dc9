package d21

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

/*
HID feature report exchanged with the D21 bootloader:
guint8		report_id;	always 0x00
guint8		cmd;
guint8		len;		number of payload bytes following
guint8		data[62];	zero padded up to the 64 byte endpoint
*/

type BootloaderCommand byte

const (
	BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES    BootloaderCommand = 0x83
	BOOTLOADER_COMMAND_REBOOT_INTO_ISP          BootloaderCommand = 0x90
	BOOTLOADER_COMMAND_FIRMWARE_UPDATE_START    BootloaderCommand = 0x91
	BOOTLOADER_COMMAND_FIRMWARE_UPDATE_DATA     BootloaderCommand = 0x92
	BOOTLOADER_COMMAND_FIRMWARE_UPDATE_COMPLETE BootloaderCommand = 0x93
	BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK      BootloaderCommand = 0x94
	BOOTLOADER_COMMAND_FIRMWARE_UPDATE_REBOOT   BootloaderCommand = 0x95
)

func (c BootloaderCommand) String() string {
	switch c {
	case BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES:
		return "GET ATTRIBUTES VALUES"
	case BOOTLOADER_COMMAND_REBOOT_INTO_ISP:
		return "REBOOT INTO ISP"
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_START:
		return "FIRMWARE UPDATE START"
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_DATA:
		return "FIRMWARE UPDATE DATA"
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_COMPLETE:
		return "FIRMWARE UPDATE COMPLETE"
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK:
		return "FIRMWARE UPDATE ACK"
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_REBOOT:
		return "FIRMWARE UPDATE REBOOT"
	}
	return fmt.Sprintf("Unknown bootloader command %02x", byte(c))
}

type UpdateStatus uint16

const (
	UPDATE_STATUS_OK    UpdateStatus = 0
	UPDATE_STATUS_ERROR UpdateStatus = 1
	UPDATE_STATUS_BUSY  UpdateStatus = 2
)

func (s UpdateStatus) String() string {
	switch s {
	case UPDATE_STATUS_OK:
		return "OK"
	case UPDATE_STATUS_ERROR:
		return "ERROR"
	case UPDATE_STATUS_BUSY:
		return "BUSY"
	}
	return fmt.Sprintf("Unknown update status %04x", uint16(s))
}

// DebugOp is carried in the code field of a FIRMWARE_UPDATE_ACK frame sent by the host.
type DebugOp uint16

const (
	DEBUG_OP_SET_SINGLETON_MODE  DebugOp = 0x8004
	DEBUG_OP_BOOTLOADER_LOCK     DebugOp = 0x8007
	DEBUG_OP_BOOTLOADER_UNLOCK   DebugOp = 0x8008
	DEBUG_OP_READ_HID_THIS       DebugOp = 0x8009
	DEBUG_OP_READ_HID_OTHER      DebugOp = 0x800a
	DEBUG_OP_READ_32B_THIS       DebugOp = 0x800d
	DEBUG_OP_READ_32B_OTHER      DebugOp = 0x800e
	DEBUG_OP_SET_FORCE_CRC_CHECK DebugOp = 0x800f
)

func (o DebugOp) String() string {
	switch o {
	case DEBUG_OP_SET_SINGLETON_MODE:
		return "SET SINGLETON MODE"
	case DEBUG_OP_BOOTLOADER_LOCK:
		return "BOOTLOADER LOCK"
	case DEBUG_OP_BOOTLOADER_UNLOCK:
		return "BOOTLOADER UNLOCK"
	case DEBUG_OP_READ_HID_THIS:
		return "READ HID THIS"
	case DEBUG_OP_READ_HID_OTHER:
		return "READ HID OTHER"
	case DEBUG_OP_READ_32B_THIS:
		return "READ 32B THIS"
	case DEBUG_OP_READ_32B_OTHER:
		return "READ 32B OTHER"
	case DEBUG_OP_SET_FORCE_CRC_CHECK:
		return "SET FORCE CRC CHECK"
	}
	return fmt.Sprintf("Unknown debug op %04x", uint16(o))
}

const (
	HID_EP_SIZE     = 64
	HID_REPORT_ID   = 0x00
	HID_REPORT_SIZE = HID_EP_SIZE + 1

	MSG_HEADER_LEN        = 2
	UPDATE_ACK_LEN        = 6
	UPDATE_ACK_HEADER_LEN = MSG_HEADER_LEN + UPDATE_ACK_LEN
	UPDATE_ACK_MAX_LEN    = HID_EP_SIZE - UPDATE_ACK_HEADER_LEN

	REBOOT_INTO_ISP_LEN      = 4
	FIRMWARE_UPDATE_DATA_LEN = 50
	CRC_DATA_LEN             = 16
	CRC_FILLER               = 0x5a
	ATTRIBUTE_LEN            = 5
	DEBUG_READ_CHUNK_LEN     = 32
)

// Message is a host to device frame. ToWire returns the frame without report ID and padding.
type Message interface {
	Command() BootloaderCommand
	ToWire() (payload []byte, err error)

	fmt.Stringer
}

func header(cmd BootloaderCommand, length int) []byte {
	return []byte{byte(cmd), byte(length)}
}

type GetAttributesRequest struct{}

func (m *GetAttributesRequest) Command() BootloaderCommand {
	return BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES
}
func (m *GetAttributesRequest) ToWire() ([]byte, error) {
	return header(m.Command(), 0), nil
}
func (m *GetAttributesRequest) String() string { return m.Command().String() }

type RebootIntoISP struct{}

func (m *RebootIntoISP) Command() BootloaderCommand { return BOOTLOADER_COMMAND_REBOOT_INTO_ISP }
func (m *RebootIntoISP) ToWire() ([]byte, error) {
	return append(header(m.Command(), REBOOT_INTO_ISP_LEN), make([]byte, REBOOT_INTO_ISP_LEN)...), nil
}
func (m *RebootIntoISP) String() string { return m.Command().String() }

// UpdateStart erases the region of Blob. The firmware blob is addressed by an empty payload.
type UpdateStart struct {
	Blob BlobID
}

func (m *UpdateStart) Command() BootloaderCommand { return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_START }
func (m *UpdateStart) ToWire() ([]byte, error) {
	if m.Blob == BLOB_ID_FIRMWARE {
		return header(m.Command(), 0), nil
	}
	return append(header(m.Command(), 1), byte(m.Blob)), nil
}
func (m *UpdateStart) String() string {
	return fmt.Sprintf("%s blob: %s", m.Command(), m.Blob)
}

type UpdateData struct {
	Data []byte
}

func (m *UpdateData) Command() BootloaderCommand { return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_DATA }
func (m *UpdateData) ToWire() ([]byte, error) {
	if len(m.Data) > FIRMWARE_UPDATE_DATA_LEN {
		return nil, errors.Errorf("update data chunk too large (%d bytes, max %d)", len(m.Data), FIRMWARE_UPDATE_DATA_LEN)
	}
	return append(header(m.Command(), len(m.Data)), m.Data...), nil
}
func (m *UpdateData) String() string {
	return fmt.Sprintf("%s len: %d, data: % x", m.Command(), len(m.Data), m.Data)
}

type UpdateComplete struct {
	CRC uint32
}

func (m *UpdateComplete) Command() BootloaderCommand {
	return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_COMPLETE
}
func (m *UpdateComplete) ToWire() ([]byte, error) {
	payload := make([]byte, MSG_HEADER_LEN+CRC_DATA_LEN)
	payload[0] = byte(m.Command())
	payload[1] = CRC_DATA_LEN
	binary.LittleEndian.PutUint32(payload[2:], m.CRC)
	for i := MSG_HEADER_LEN + 4; i < len(payload); i++ {
		payload[i] = CRC_FILLER
	}
	return payload, nil
}
func (m *UpdateComplete) String() string {
	return fmt.Sprintf("%s crc: %#08x", m.Command(), m.CRC)
}

type UpdateReboot struct{}

func (m *UpdateReboot) Command() BootloaderCommand { return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_REBOOT }
func (m *UpdateReboot) ToWire() ([]byte, error) {
	return header(m.Command(), 0), nil
}
func (m *UpdateReboot) String() string { return m.Command().String() }

// DebugCommand shares the FIRMWARE_UPDATE_ACK tag with UpdateAck, Op travels in the code
// field and Arg in the offset field.
type DebugCommand struct {
	Op  DebugOp
	Arg uint32
}

func (m *DebugCommand) Command() BootloaderCommand { return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK }
func (m *DebugCommand) ToWire() ([]byte, error) {
	payload := make([]byte, UPDATE_ACK_HEADER_LEN)
	payload[0] = byte(m.Command())
	payload[1] = UPDATE_ACK_LEN
	binary.LittleEndian.PutUint32(payload[2:], m.Arg)
	binary.LittleEndian.PutUint16(payload[6:], uint16(m.Op))
	return payload, nil
}
func (m *DebugCommand) String() string {
	return fmt.Sprintf("DEBUG %s arg: %#08x", m.Op, m.Arg)
}

// UpdateAck is the device reply to erase and program operations.
type UpdateAck struct {
	Length      byte
	Offset      uint32
	Status      UpdateStatus
	SideChannel []byte
}

func (r *UpdateAck) Command() BootloaderCommand { return BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK }

func (r *UpdateAck) String() string {
	return fmt.Sprintf("%s len: %d, offset: %#08x, status: %s", r.Command(), r.Length, r.Offset, r.Status)
}

// FromWire expects the 64 byte endpoint payload, without report ID.
func (r *UpdateAck) FromWire(payload []byte) (err error) {
	if len(payload) != HID_EP_SIZE {
		return errors.Wrapf(ErrBadReply, "update ACK has %d bytes, expected %d", len(payload), HID_EP_SIZE)
	}
	if BootloaderCommand(payload[0]) != BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK {
		return errors.Wrapf(ErrBadReply, "invalid update ACK id %02x", payload[0])
	}
	length := payload[1]
	if length < UPDATE_ACK_LEN || length > UPDATE_ACK_MAX_LEN {
		return errors.Wrapf(ErrBadReply, "invalid update ACK size %d", length)
	}
	status := UpdateStatus(binary.LittleEndian.Uint16(payload[6:8]))
	switch status {
	case UPDATE_STATUS_OK, UPDATE_STATUS_BUSY, UPDATE_STATUS_ERROR:
	default:
		return errors.Wrapf(ErrBadReply, "invalid update ACK status %04x", uint16(status))
	}

	r.Length = length
	r.Offset = binary.LittleEndian.Uint32(payload[2:6])
	r.Status = status
	r.SideChannel = append([]byte(nil), payload[UPDATE_ACK_HEADER_LEN:MSG_HEADER_LEN+int(length)]...)
	return nil
}

func (r *UpdateAck) ToWire() (payload []byte, err error) {
	length := r.Length
	if length == 0 {
		length = UPDATE_ACK_LEN
	}
	payload = make([]byte, UPDATE_ACK_HEADER_LEN, MSG_HEADER_LEN+int(length))
	payload[0] = byte(r.Command())
	payload[1] = length
	binary.LittleEndian.PutUint32(payload[2:], r.Offset)
	binary.LittleEndian.PutUint16(payload[6:], uint16(r.Status))
	payload = append(payload, r.SideChannel...)
	if len(payload) > HID_EP_SIZE {
		return nil, errors.New("update ACK side channel data exceeds endpoint size")
	}
	return payload, nil
}

// DecodeUpdateAck parses the 64 byte endpoint payload of an ACK reply.
func DecodeUpdateAck(payload []byte) (*UpdateAck, error) {
	ack := &UpdateAck{}
	if err := ack.FromWire(payload); err != nil {
		return nil, err
	}
	return ack, nil
}

type AttributeTag byte

const (
	HID_ATTRIB_PRODUCT_ID          AttributeTag = 1
	HID_ATTRIB_FIRMWARE_BUILD_TIME AttributeTag = 4
	HID_ATTRIB_BOARD_REVISION      AttributeTag = 9
)

func (t AttributeTag) String() string {
	switch t {
	case HID_ATTRIB_PRODUCT_ID:
		return "product ID"
	case HID_ATTRIB_FIRMWARE_BUILD_TIME:
		return "firmware build time"
	case HID_ATTRIB_BOARD_REVISION:
		return "board revision"
	}
	return fmt.Sprintf("attribute %d", byte(t))
}

type Attribute struct {
	Tag   AttributeTag
	Value uint32
}

type AttributesReply struct {
	Length     byte
	Attributes []Attribute
}

func (r *AttributesReply) Command() BootloaderCommand {
	return BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES
}

func (r *AttributesReply) String() string {
	res := fmt.Sprintf("%s len: %d", r.Command(), r.Length)
	for _, a := range r.Attributes {
		res += fmt.Sprintf(", %s: %#x", a.Tag, a.Value)
	}
	return res
}

func (r *AttributesReply) FromWire(payload []byte) (err error) {
	if len(payload) < MSG_HEADER_LEN {
		return errors.Wrap(ErrBadReply, "attributes reply too short")
	}
	r.Length = payload[1]
	body := payload[MSG_HEADER_LEN:]
	if int(r.Length) > len(body) {
		return errors.Wrapf(ErrBadReply, "invalid attributes length %d", r.Length)
	}
	r.Attributes = r.Attributes[:0]
	for off := 0; off+ATTRIBUTE_LEN <= int(r.Length); off += ATTRIBUTE_LEN {
		r.Attributes = append(r.Attributes, Attribute{
			Tag:   AttributeTag(body[off]),
			Value: binary.LittleEndian.Uint32(body[off+1 : off+ATTRIBUTE_LEN]),
		})
	}
	return nil
}

// Lookup returns the first attribute with the given tag.
func (r *AttributesReply) Lookup(tag AttributeTag) (uint32, bool) {
	for _, a := range r.Attributes {
		if a.Tag == tag {
			return a.Value, true
		}
	}
	return 0, false
}

// DebugReadReply carries one run of a debug read. Data holds the Length-6 bytes following the
// fixed ACK header.
type DebugReadReply struct {
	Offset uint32
	Code   uint16
	Data   []byte
}

func (r *DebugReadReply) FromWire(payload []byte) (err error) {
	if len(payload) < UPDATE_ACK_HEADER_LEN {
		return errors.Wrapf(ErrBadReply, "debug read reply has %d bytes", len(payload))
	}
	length := int(payload[1])
	if length < UPDATE_ACK_LEN || length > UPDATE_ACK_MAX_LEN || MSG_HEADER_LEN+length > len(payload) {
		return errors.Wrapf(ErrBadReply, "invalid debug read length %d", length)
	}
	r.Offset = binary.LittleEndian.Uint32(payload[2:6])
	r.Code = binary.LittleEndian.Uint16(payload[6:8])
	r.Data = payload[UPDATE_ACK_HEADER_LEN : MSG_HEADER_LEN+length]
	return nil
}

// ToReport prefixes the report ID and zero pads msg to the endpoint size.
func ToReport(msg Message) (report []byte, err error) {
	payload, err := msg.ToWire()
	if err != nil {
		return nil, err
	}
	if len(payload) > HID_EP_SIZE {
		return nil, errors.Errorf("%s frame too large (%d bytes)", msg.Command(), len(payload))
	}
	report = make([]byte, HID_REPORT_SIZE)
	report[0] = HID_REPORT_ID
	copy(report[1:], payload)
	return report, nil
}

// DecodeReply parses a full 65 byte feature report into an UpdateAck or an AttributesReply.
func DecodeReply(report []byte) (msg interface{}, err error) {
	if len(report) != HID_REPORT_SIZE || report[0] != HID_REPORT_ID {
		return nil, errors.Wrap(ErrBadReply, "invalid report ID")
	}
	if BootloaderCommand(report[1]) == BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK {
		return DecodeUpdateAck(report[1:])
	}
	attrs := &AttributesReply{}
	if err := attrs.FromWire(report[1:]); err != nil {
		return nil, err
	}
	return attrs, nil
}
