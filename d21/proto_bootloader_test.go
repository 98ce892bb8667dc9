package d21

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func ackPayload(id byte, length byte, status uint16) []byte {
	p := make([]byte, HID_EP_SIZE)
	p[0] = id
	p[1] = length
	p[2] = 0x00
	p[3] = 0x20
	p[6] = byte(status)
	p[7] = byte(status >> 8)
	return p
}

func TestDecodeUpdateAck(t *testing.T) {
	ack := byte(BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK)
	tests := []struct {
		name    string
		payload []byte
		wantErr bool
		status  UpdateStatus
	}{
		{"ok", ackPayload(ack, 6, 0), false, UPDATE_STATUS_OK},
		{"error", ackPayload(ack, 6, 1), false, UPDATE_STATUS_ERROR},
		{"busy", ackPayload(ack, 6, 2), false, UPDATE_STATUS_BUSY},
		{"max length", ackPayload(ack, UPDATE_ACK_MAX_LEN, 0), false, UPDATE_STATUS_OK},
		{"length too short", ackPayload(ack, 5, 0), true, 0},
		{"length too long", ackPayload(ack, UPDATE_ACK_MAX_LEN+1, 0), true, 0},
		{"unknown status", ackPayload(ack, 6, 3), true, 0},
		{"wrong id", ackPayload(0x93, 6, 0), true, 0},
		{"short payload", ackPayload(ack, 6, 0)[:20], true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUpdateAck(tt.payload)
			if tt.wantErr {
				if errors.Cause(err) != ErrBadReply {
					t.Fatalf("expected ErrBadReply, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, got.Status)
			}
			if got.Offset != 0x2000 {
				t.Errorf("expected offset 0x2000, got %#x", got.Offset)
			}
			if len(got.SideChannel) != int(tt.payload[1])-UPDATE_ACK_LEN {
				t.Errorf("expected %d side channel bytes, got %d", tt.payload[1]-UPDATE_ACK_LEN, len(got.SideChannel))
			}
		})
	}
}

func TestUpdateAckRoundTrip(t *testing.T) {
	ack := &UpdateAck{Offset: 0x3f000, Status: UPDATE_STATUS_BUSY, SideChannel: []byte{1, 2, 3}}
	ack.Length = UPDATE_ACK_LEN + 3
	report, err := ToReport(ack)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeReply(report)
	if err != nil {
		t.Fatal(err)
	}
	decoded, ok := got.(*UpdateAck)
	if !ok {
		t.Fatalf("expected an UpdateAck, got %T", got)
	}
	if decoded.Offset != ack.Offset || decoded.Status != ack.Status || !bytes.Equal(decoded.SideChannel, ack.SideChannel) {
		t.Errorf("round trip mismatch: %s vs %s", decoded, ack)
	}
}

func TestUpdateAckReencode(t *testing.T) {
	for _, length := range []byte{UPDATE_ACK_LEN, UPDATE_ACK_MAX_LEN} {
		wire := ackPayload(byte(BOOTLOADER_COMMAND_FIRMWARE_UPDATE_ACK), length, uint16(UPDATE_STATUS_BUSY))
		ack, err := DecodeUpdateAck(wire)
		if err != nil {
			t.Fatal(err)
		}
		again, err := ack.ToWire()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(again, wire[:MSG_HEADER_LEN+int(length)]) {
			t.Errorf("length %d: re-encoded % x, expected % x", length, again, wire[:MSG_HEADER_LEN+int(length)])
		}
	}
}

func TestToReportFrames(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{"reboot into ISP", &RebootIntoISP{}, []byte{0x00, 0x90, 0x04, 0x00, 0x00, 0x00, 0x00}},
		{"erase firmware", &UpdateStart{Blob: BLOB_ID_FIRMWARE}, []byte{0x00, 0x91, 0x00}},
		{"erase device info", &UpdateStart{Blob: BLOB_ID_DEVICE_INFO_OTHER}, []byte{0x00, 0x91, 0x01, 0x09}},
		{"data", &UpdateData{Data: []byte{0xaa, 0xbb}}, []byte{0x00, 0x92, 0x02, 0xaa, 0xbb}},
		{"complete", &UpdateComplete{CRC: 0x11223344}, []byte{
			0x00, 0x93, 0x10, 0x44, 0x33, 0x22, 0x11,
			0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a, 0x5a}},
		{"reboot", &UpdateReboot{}, []byte{0x00, 0x95, 0x00}},
		{"attributes", &GetAttributesRequest{}, []byte{0x00, 0x83, 0x00}},
		{"debug read", &DebugCommand{Op: DEBUG_OP_READ_32B_THIS, Arg: 0x3f000}, []byte{
			0x00, 0x94, 0x06, 0x00, 0xf0, 0x03, 0x00, 0x0d, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := ToReport(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if len(report) != HID_REPORT_SIZE {
				t.Fatalf("expected a %d byte report, got %d", HID_REPORT_SIZE, len(report))
			}
			if !bytes.Equal(report[:len(tt.want)], tt.want) {
				t.Errorf("expected % x, got % x", tt.want, report[:len(tt.want)])
			}
			for i, b := range report[len(tt.want):] {
				if b != 0 {
					t.Fatalf("padding byte %d is %02x", len(tt.want)+i, b)
				}
			}
		})
	}
}

func TestUpdateDataTooLarge(t *testing.T) {
	if _, err := ToReport(&UpdateData{Data: make([]byte, FIRMWARE_UPDATE_DATA_LEN+1)}); err == nil {
		t.Fatal("expected an error for an oversized data chunk")
	}
}

func TestDecodeAttributes(t *testing.T) {
	report := attributesReport([]Attribute{
		{Tag: HID_ATTRIB_PRODUCT_ID, Value: 0x1003},
		{Tag: HID_ATTRIB_FIRMWARE_BUILD_TIME, Value: 0x5c2aad80},
	})
	got, err := DecodeReply(report)
	if err != nil {
		t.Fatal(err)
	}
	attrs, ok := got.(*AttributesReply)
	if !ok {
		t.Fatalf("expected an AttributesReply, got %T", got)
	}
	if v, ok := attrs.Lookup(HID_ATTRIB_FIRMWARE_BUILD_TIME); !ok || v != 0x5c2aad80 {
		t.Errorf("unexpected build time %#x (found %v)", v, ok)
	}
	if _, ok := attrs.Lookup(HID_ATTRIB_BOARD_REVISION); ok {
		t.Error("board revision should be missing")
	}
}

func TestDecodeReplyBadReport(t *testing.T) {
	report := ackReport(UPDATE_STATUS_OK, 0)
	report[0] = 0x01
	if _, err := DecodeReply(report); errors.Cause(err) != ErrBadReply {
		t.Errorf("expected ErrBadReply for a wrong report ID, got %v", err)
	}
	if _, err := DecodeReply(report[:HID_EP_SIZE]); errors.Cause(err) != ErrBadReply {
		t.Errorf("expected ErrBadReply for a short report, got %v", err)
	}
}

func TestDebugReadReply(t *testing.T) {
	data := []byte("0123456789")
	report := debugReport(0x2000, DEBUG_OP_READ_32B_THIS, data)

	var r DebugReadReply
	if err := r.FromWire(report[1:]); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.Data, data) || r.Offset != 0x2000 {
		t.Errorf("unexpected reply data %q at %#x", r.Data, r.Offset)
	}

	end := debugReport(0, DEBUG_OP_READ_32B_THIS, nil)
	if err := r.FromWire(end[1:]); err != nil || len(r.Data) != 0 {
		t.Errorf("expected an empty run, got %d bytes (%v)", len(r.Data), err)
	}

	report[2] = 2
	if err := r.FromWire(report[1:]); errors.Cause(err) != ErrBadReply {
		t.Errorf("expected ErrBadReply, got %v", err)
	}
}
