package d21

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

type Firmware struct {
	Path  string
	Image []byte
	// StartAddr is the flash address of Image[0], APP_FW_START for every accepted image.
	StartAddr uint32
	FromHex   bool
	CRC       uint32
}

func (f *Firmware) String() string {
	kind := "raw"
	if f.FromHex {
		kind = "Intel HEX"
	}
	return fmt.Sprintf("Firmware '%s' (%s) size %#x (%d) start: %#04x CRC %#08x", f.Path, kind, len(f.Image), len(f.Image), f.StartAddr, f.CRC)
}

func isHexFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// LoadFirmware reads an application image. Intel HEX files are flattened to a binary
// starting at APP_FW_START, gaps are filled with 0xff.
func LoadFirmware(path string) (f *Firmware, err error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading firmware file")
	}
	f = &Firmware{Path: path, StartAddr: APP_FW_START}
	if isHexFile(path) {
		f.FromHex = true
		if f.Image, err = ParseFirmwareHex(raw); err != nil {
			return nil, err
		}
	} else {
		f.Image = raw
	}
	if len(f.Image) == 0 {
		return nil, errors.Errorf("firmware file '%s' is empty", path)
	}
	if len(f.Image) > APP_FW_LENGTH {
		return nil, errors.Wrapf(ErrFirmwareTooLarge, "'%s' has %d bytes, max %d", path, len(f.Image), APP_FW_LENGTH)
	}
	f.CRC = FirmwareCRC(f.Image)
	return f, nil
}

func ParseFirmwareHex(raw []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "parsing Intel HEX firmware")
	}

	end := uint32(APP_FW_START)
	for _, segment := range mem.GetDataSegments() {
		if segment.Address < APP_FW_START {
			return nil, errors.Errorf("segment at %#x lies below application start %#x", segment.Address, APP_FW_START)
		}
		if segEnd := segment.Address + uint32(len(segment.Data)); segEnd > end {
			end = segEnd
		}
	}
	if end > APP_FW_INFO {
		return nil, errors.Wrapf(ErrFirmwareTooLarge, "image ends at %#x, application flash ends at %#x", end, APP_FW_INFO)
	}
	return mem.ToBinary(APP_FW_START, end-APP_FW_START, 0xff), nil
}
