package d21

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultBlobSize is the download size used for non firmware blobs.
const DefaultBlobSize = FLASH_ERASE_SIZE

// Session drives the bootloader of one open device. It owns the transport and is not
// safe for concurrent use.
type Session struct {
	dev    Transport
	device HIDDevice
	cfg    config
	log log.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

func NewSession(dev Transport, opts ...Option) *Session {
	if dev == nil {
		panic("transport cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		dev: dev,
		cfg: cfg,
		log: cfg.logger,
	}
}

// Close releases the transport. Further calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.log.Debug("closing D21 bootloader device")
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}

// Device describes the HID interface the session was opened on, zero for sessions on a bare
// transport.
func (s *Session) Device() HIDDevice {
	return s.device
}

func (s *Session) SetShowInOut(show bool) {
	s.cfg.showInOut = show
}

func (s *Session) reportProgress(p Progress) {
	if s.cfg.progress != nil {
		s.cfg.progress(p)
	}
}

func (s *Session) send(msg Message) error {
	report, err := ToReport(msg)
	if err != nil {
		return err
	}
	if s.cfg.showInOut {
		s.log.Debugf("Out: % 02x", report)
	}
	if err := s.dev.SendFeatureReport(report); err != nil {
		return errors.Wrapf(err, "send %s", msg.Command())
	}
	return nil
}

func (s *Session) getReport() ([]byte, error) {
	report := make([]byte, HID_REPORT_SIZE)
	report[0] = HID_REPORT_ID
	n, err := s.dev.GetFeatureReport(report)
	if err != nil {
		return nil, errors.Wrap(err, "get feature report")
	}
	if s.cfg.showInOut {
		s.log.Debugf("In : % 02x", report[:n])
	}
	if n != HID_REPORT_SIZE {
		return nil, errors.Wrapf(ErrBadReply, "invalid report length %d", n)
	}
	if report[0] != HID_REPORT_ID {
		return nil, errors.Wrap(ErrBadReply, "invalid report ID")
	}
	return report, nil
}

func (s *Session) recv() (interface{}, error) {
	report, err := s.getReport()
	if err != nil {
		return nil, err
	}
	return DecodeReply(report)
}

// RebootIntoISP makes an app mode device enter the bootloader. A device already in the
// bootloader resets its protocol state. No reply is sent, the device drops off the bus.
func (s *Session) RebootIntoISP() error {
	return s.send(&RebootIntoISP{})
}

// Reset resets the protocol state of the bootloader, in place of a USB bus reset.
func (s *Session) Reset() error {
	return s.RebootIntoISP()
}

// Reboot leaves the bootloader and starts the application.
func (s *Session) Reboot() error {
	return s.send(&UpdateReboot{})
}

// Erase erases the region of blob and waits until the device reports completion.
func (s *Session) Erase(ctx context.Context, blob BlobID) error {
	if !blob.IsSupported() {
		return errors.Wrapf(ErrUnsupportedBlob, "erase %s", blob)
	}
	s.log.WithField("blob", blob).Debug("erasing")
	if err := s.send(&UpdateStart{Blob: blob}); err != nil {
		return err
	}
	return s.pollAck(ctx, blob)
}

// pollAck retries while the device is BUSY. ERROR and malformed replies end the poll at once.
func (s *Session) pollAck(ctx context.Context, blob BlobID) error {
	defer s.reportProgress(Progress{Phase: PhaseErasing, Blob: blob, Total: -1, Done: true})

	for i := 0; i < s.cfg.ackRetries; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "waiting for ACK")
		}
		s.reportProgress(Progress{Phase: PhaseErasing, Blob: blob, Current: i, Total: -1})

		report, err := s.getReport()
		if err != nil {
			return err
		}
		ack, err := DecodeUpdateAck(report[1:])
		if err != nil {
			return err
		}

		switch ack.Status {
		case UPDATE_STATUS_OK:
			s.log.WithField("blob", blob).Debugf("ACK after %d polls", i+1)
			return nil
		case UPDATE_STATUS_BUSY:
			continue
		case UPDATE_STATUS_ERROR:
			return errors.Wrapf(ErrUpdate, "%s at offset %#x", blob, ack.Offset)
		}
	}
	return errors.Wrapf(ErrTimeout, "ACK timeout after %d polls", s.cfg.ackRetries)
}

func (s *Session) streamData(ctx context.Context, blob BlobID, data []byte) error {
	for off := 0; off < len(data); off += FIRMWARE_UPDATE_DATA_LEN {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "programming %s", blob)
		}
		end := off + FIRMWARE_UPDATE_DATA_LEN
		if end > len(data) {
			end = len(data)
		}
		if err := s.send(&UpdateData{Data: data[off:end]}); err != nil {
			return err
		}
		s.reportProgress(Progress{Phase: PhaseProgramming, Blob: blob, Current: end, Total: len(data)})
	}
	s.reportProgress(Progress{Phase: PhaseProgramming, Blob: blob, Current: len(data), Total: len(data), Done: true})
	return nil
}

func (s *Session) completeUpdate(crc uint32) error {
	s.log.Debugf("completing update with CRC %#08x", crc)
	return s.send(&UpdateComplete{CRC: crc})
}

// UploadBlob erases blob and writes data to it. The stored CRC is computed over the
// programmed region. Completion is not awaited.
func (s *Session) UploadBlob(ctx context.Context, blob BlobID, data []byte) error {
	return s.uploadBlob(ctx, blob, data, nil)
}

// UploadBlobWithCRC is UploadBlob with a caller supplied CRC that is stored unchecked.
func (s *Session) UploadBlobWithCRC(ctx context.Context, blob BlobID, data []byte, crc uint32) error {
	return s.uploadBlob(ctx, blob, data, &crc)
}

func (s *Session) uploadBlob(ctx context.Context, blob BlobID, data []byte, crc *uint32) error {
	if blob.IsFirmware() || !blob.IsSupported() {
		return errors.Wrapf(ErrUnsupportedBlob, "upload %s", blob)
	}
	if len(data) < BLOB_CRC_LEN {
		return errors.Errorf("%s data too short (%d bytes)", blob, len(data))
	}
	if len(data) > FLASH_ERASE_SIZE {
		return errors.Errorf("%s data too long (%d bytes, max %d)", blob, len(data), FLASH_ERASE_SIZE)
	}

	payload := append([]byte(nil), data...)
	if blob.IsFirmwareCRC() {
		// drop the stale CRC at the end of the record
		payload = payload[:len(payload)-BLOB_CRC_LEN]
	} else {
		for i := 0; i < BLOB_CRC_LEN; i++ {
			payload[i] = 0xff
		}
	}

	if err := s.Erase(ctx, blob); err != nil {
		return err
	}
	s.log.WithField("blob", blob).Debugf("uploading %d bytes", len(payload))
	if err := s.streamData(ctx, blob, payload); err != nil {
		return err
	}

	var value uint32
	if crc != nil {
		value = *crc
	} else if len(payload) > BLOB_CRC_LEN {
		value = ComputeCRC(payload[BLOB_CRC_LEN:], FLASH_ERASE_SIZE-BLOB_CRC_LEN)
	} else {
		value = ComputeCRC(nil, FLASH_ERASE_SIZE-BLOB_CRC_LEN)
	}
	return s.completeUpdate(value)
}

// UploadFirmware erases the application region, programs image and, if verify is set,
// reads it back. A mismatch yields ErrVerify.
func (s *Session) UploadFirmware(ctx context.Context, image []byte, verify bool) error {
	if len(image) > APP_FW_LENGTH {
		return errors.Wrapf(ErrFirmwareTooLarge, "%d bytes, max %d", len(image), APP_FW_LENGTH)
	}
	if err := s.Erase(ctx, BLOB_ID_FIRMWARE); err != nil {
		return err
	}
	if err := s.streamData(ctx, BLOB_ID_FIRMWARE, image); err != nil {
		return err
	}
	if err := s.completeUpdate(FirmwareCRC(image)); err != nil {
		return err
	}
	s.log.WithField("size", len(image)).Info("firmware programmed")

	if !verify {
		return nil
	}
	programmed, err := s.DownloadFirmware(ctx, len(image))
	if err != nil {
		return errors.Wrap(err, "reading back firmware")
	}
	if !bytes.Equal(programmed, image) {
		return errors.Wrapf(ErrVerify, "read back %d of %d bytes", len(programmed), len(image))
	}
	s.log.Info("firmware verified")
	return nil
}

// UploadFirmwareFile loads a raw binary or Intel HEX image and programs it.
func (s *Session) UploadFirmwareFile(ctx context.Context, path string, verify bool) error {
	fw, err := LoadFirmware(path)
	if err != nil {
		return err
	}
	s.log.Debug(fw.String())
	return s.UploadFirmware(ctx, fw.Image, verify)
}

// DownloadBlob reads size bytes of blob in 32 byte debug reads. A read ended early by the
// device is not an error, the result is shorter then.
func (s *Session) DownloadBlob(ctx context.Context, blob BlobID, size int) ([]byte, error) {
	if !blob.IsSupported() {
		return nil, errors.Wrapf(ErrUnsupportedBlob, "download %s", blob)
	}
	region, err := Resolve(blob)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultBlobSize
	}
	if size > region.Size {
		return nil, errors.Errorf("%s: %d bytes requested, region has %d", blob, size, region.Size)
	}

	data := make([]byte, 0, size)
	for off := 0; off < size; off += DEBUG_READ_CHUNK_LEN {
		chunk, err := s.readDebugData(ctx, region.ReadOp, DEBUG_READ_CHUNK_LEN, region.Offset+off)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s at %#x", blob, region.Offset+off)
		}
		data = append(data, chunk...)
		if blob.IsFirmware() {
			s.reportProgress(Progress{Phase: PhaseReading, Blob: blob, Current: len(data), Total: size})
		}
	}
	if blob.IsFirmware() {
		s.reportProgress(Progress{Phase: PhaseReading, Blob: blob, Current: len(data), Total: size, Done: true})
	}
	if len(data) > size {
		data = data[:size]
	}
	return data, nil
}

func (s *Session) DownloadFirmware(ctx context.Context, size int) ([]byte, error) {
	return s.DownloadBlob(ctx, BLOB_ID_FIRMWARE, size)
}

// readDebugData issues one debug read and collects up to size bytes. The device streams
// runs of data and ends early with an empty run.
func (s *Session) readDebugData(ctx context.Context, op DebugOp, size int, offset int) ([]byte, error) {
	if err := s.send(&DebugCommand{Op: op, Arg: uint32(offset)}); err != nil {
		return nil, err
	}

	var data []byte
	for i := 0; size > 0; i++ {
		if i >= s.cfg.readRetries {
			return nil, errors.Wrapf(ErrTimeout, "%s: no end of data after %d replies", op, i)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "debug read")
		}

		report, err := s.getReport()
		if err != nil {
			return nil, err
		}
		var reply DebugReadReply
		if err := reply.FromWire(report[1:]); err != nil {
			return nil, err
		}
		if len(reply.Data) == 0 {
			break
		}
		chunk := len(reply.Data)
		if chunk > size {
			chunk = size
		}
		data = append(data, reply.Data[:chunk]...)
		size -= chunk
	}
	return data, nil
}

// CRCFixup overwrites the stored firmware CRC. valid stores the known good value on both
// units, !valid breaks the CRC on the primary unit only.
func (s *Session) CRCFixup(ctx context.Context, valid bool) error {
	crc := uint32(0x00000000)
	blobs := []BlobID{BLOB_ID_FIRMWARE_CRC_THIS, BLOB_ID_FIRMWARE_CRC_OTHER}
	if !valid {
		crc = 0xffffffff
		blobs = []BlobID{BLOB_ID_FIRMWARE_CRC_THIS}
	}

	for _, blob := range blobs {
		data, err := s.DownloadBlob(ctx, blob, FLASH_ERASE_SIZE)
		if err != nil {
			return err
		}
		if err := s.UploadBlobWithCRC(ctx, blob, data, crc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) SetSingletonMode() error {
	return s.send(&DebugCommand{Op: DEBUG_OP_SET_SINGLETON_MODE})
}

func (s *Session) SetForceCRCCheck(on bool) error {
	arg := uint32(0)
	if on {
		arg = 1
	}
	return s.send(&DebugCommand{Op: DEBUG_OP_SET_FORCE_CRC_CHECK, Arg: arg})
}

func (s *Session) SetBootloaderLock(on bool) error {
	op := DEBUG_OP_BOOTLOADER_UNLOCK
	if on {
		op = DEBUG_OP_BOOTLOADER_LOCK
	}
	return s.send(&DebugCommand{Op: op})
}
