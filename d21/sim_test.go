package d21

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/ioutil"

	log "github.com/sirupsen/logrus"
)

// simDevice emulates the bootloader side of the feature report protocol on two flash
// images, one per unit.
type simDevice struct {
	flash [2][]byte

	replies [][]byte
	sent    [][]byte
	gets    int
	closed  int

	// eraseAcks is replied to every UpdateStart, default is a single OK
	eraseAcks []UpdateStatus
	// corruptReadback flips a bit of every firmware byte read back
	corruptReadback bool
	// emptyReads makes every 32 byte read end immediately
	emptyReads bool
	sendErr    error

	writing   bool
	region    BlobRegion
	unit      Unit
	writeBuf  []byte
	completed []uint32
	debugOps  []DebugCommand

	hidState [2][]byte
	attrs    []Attribute
	// onRebootIntoISP runs when the device receives RebootIntoISP
	onRebootIntoISP func()
}

var errNoReply = errors.New("simulated device has no reply queued")

func newSimDevice() *simDevice {
	d := &simDevice{}
	for i := range d.flash {
		d.flash[i] = bytes.Repeat([]byte{0xff}, FLASH_SIZE)
	}
	return d
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.Out = ioutil.Discard
	return l
}

func ackReport(status UpdateStatus, offset uint32) []byte {
	r := make([]byte, HID_REPORT_SIZE)
	r[1] = byte(BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK)
	r[2] = UPDATE_ACK_LEN
	binary.LittleEndian.PutUint32(r[3:], offset)
	binary.LittleEndian.PutUint16(r[7:], uint16(status))
	return r
}

func debugReport(offset uint32, op DebugOp, data []byte) []byte {
	r := make([]byte, HID_REPORT_SIZE)
	r[1] = byte(BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK)
	r[2] = byte(UPDATE_ACK_LEN + len(data))
	binary.LittleEndian.PutUint32(r[3:], offset)
	binary.LittleEndian.PutUint16(r[7:], uint16(op))
	copy(r[9:], data)
	return r
}

func attributesReport(attrs []Attribute) []byte {
	r := make([]byte, HID_REPORT_SIZE)
	r[1] = byte(BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES)
	r[2] = byte(len(attrs) * ATTRIBUTE_LEN)
	for i, a := range attrs {
		r[3+i*ATTRIBUTE_LEN] = byte(a.Tag)
		binary.LittleEndian.PutUint32(r[4+i*ATTRIBUTE_LEN:], a.Value)
	}
	return r
}

func (d *simDevice) queue(r []byte) { d.replies = append(d.replies, r) }

func (d *simDevice) SendFeatureReport(report []byte) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, append([]byte(nil), report...))

	length := int(report[2])
	payload := report[3 : 3+length]
	switch BootloaderCommand(report[1]) {
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_START:
		blob := BLOB_ID_FIRMWARE
		if length == 1 {
			blob = BlobID(payload[0])
		}
		region, err := Resolve(blob)
		if err != nil {
			return err
		}
		d.region, d.unit, d.writing, d.writeBuf = region, blob.Unit(), true, nil
		flash := d.flash[d.unit]
		for i := region.Offset; i < region.End(); i++ {
			flash[i] = 0xff
		}
		acks := d.eraseAcks
		if acks == nil {
			acks = []UpdateStatus{UPDATE_STATUS_OK}
		}
		for _, s := range acks {
			d.queue(ackReport(s, uint32(region.Offset)))
		}
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_DATA:
		d.writeBuf = append(d.writeBuf, payload...)
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_COMPLETE:
		crc := binary.LittleEndian.Uint32(payload)
		d.completed = append(d.completed, crc)
		flash := d.flash[d.unit]
		copy(flash[d.region.Offset:d.region.End()], d.writeBuf)
		switch {
		case d.region.Blob.IsFirmware():
			binary.LittleEndian.PutUint32(flash[APP_FW_INFO:], crc)
		case d.region.Blob.IsFirmwareCRC():
			binary.LittleEndian.PutUint32(flash[d.region.End()-BLOB_CRC_LEN:], crc)
		default:
			binary.LittleEndian.PutUint32(flash[d.region.Offset:], crc)
		}
		d.writing = false
	case BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK:
		cmd := DebugCommand{
			Arg: binary.LittleEndian.Uint32(payload[0:4]),
			Op:  DebugOp(binary.LittleEndian.Uint16(payload[4:6])),
		}
		d.debugOps = append(d.debugOps, cmd)
		d.debugRead(cmd)
	case BOOTLOADER_COMMAND_GET_ATTRIBUTES_VALUES:
		d.queue(attributesReport(d.attrs))
	case BOOTLOADER_COMMAND_REBOOT_INTO_ISP:
		d.replies = nil
		if d.onRebootIntoISP != nil {
			d.onRebootIntoISP()
		}
	}
	return nil
}

func (d *simDevice) debugRead(cmd DebugCommand) {
	switch cmd.Op {
	case DEBUG_OP_READ_32B_THIS, DEBUG_OP_READ_32B_OTHER:
		if d.emptyReads {
			d.queue(debugReport(cmd.Arg, cmd.Op, nil))
			return
		}
		unit := UnitPrimary
		if cmd.Op == DEBUG_OP_READ_32B_OTHER {
			unit = UnitSecondary
		}
		off := int(cmd.Arg)
		data := append([]byte(nil), d.flash[unit][off:off+DEBUG_READ_CHUNK_LEN]...)
		if d.corruptReadback && off >= APP_FW_START && off < APP_FW_END {
			for i := range data {
				data[i] ^= 0x01
			}
		}
		d.queue(debugReport(cmd.Arg, cmd.Op, data))
	case DEBUG_OP_READ_HID_THIS, DEBUG_OP_READ_HID_OTHER:
		unit := UnitPrimary
		if cmd.Op == DEBUG_OP_READ_HID_OTHER {
			unit = UnitSecondary
		}
		d.queue(debugReport(0, cmd.Op, d.hidState[unit]))
		d.queue(debugReport(0, cmd.Op, nil))
	}
}

func (d *simDevice) GetFeatureReport(report []byte) (int, error) {
	d.gets++
	if len(d.replies) == 0 {
		return 0, errNoReply
	}
	r := d.replies[0]
	d.replies = d.replies[1:]
	return copy(report, r), nil
}

func (d *simDevice) Close() error {
	d.closed++
	return nil
}

func (d *simDevice) sentCommands(cmd BootloaderCommand) [][]byte {
	var res [][]byte
	for _, r := range d.sent {
		if BootloaderCommand(r[1]) == cmd {
			res = append(res, r)
		}
	}
	return res
}

// sentData concatenates the payload of all UpdateData frames.
func (d *simDevice) sentData() []byte {
	var res []byte
	for _, r := range d.sentCommands(BOOTLOADER_COMMAND_FIRMWARE_UPDATE_DATA) {
		res = append(res, r[3:3+int(r[2])]...)
	}
	return res
}

func newTestSession(d *simDevice, opts ...Option) *Session {
	return NewSession(d, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// simBus serves simulated devices by product ID.
type simBus struct {
	devices map[uint16][]HIDDevice
	sims    map[string]*simDevice
	opened  []string
	closed  int
}

func newSimBus() *simBus {
	return &simBus{devices: map[uint16][]HIDDevice{}, sims: map[string]*simDevice{}}
}

func (b *simBus) add(info HIDDevice, d *simDevice) {
	b.devices[info.ProductID] = append(b.devices[info.ProductID], info)
	b.sims[info.Path] = d
}

func (b *simBus) remove(pid uint16) {
	delete(b.devices, pid)
}

func (b *simBus) Enumerate(vid, pid uint16) ([]HIDDevice, error) {
	if vid != VID {
		return nil, nil
	}
	return b.devices[pid], nil
}

func (b *simBus) Open(info HIDDevice) (Transport, error) {
	d, ok := b.sims[info.Path]
	if !ok {
		return nil, ErrNoDevice
	}
	b.opened = append(b.opened, info.Path)
	return d, nil
}

func (b *simBus) Close() error {
	b.closed++
	return nil
}
