package d21

import (
	"bytes"

	"github.com/snksoft/crc"
)

// CRCParameters describes the checksum the bootloader computes over flashed regions:
// polynomial 0x104C11DB7, zero seed, no final xor, bit reversed processing.
var CRCParameters = &crc.Parameters{
	Width:      32,
	Polynomial: 0x04C11DB7,
	ReflectIn:  true,
	ReflectOut: true,
	Init:       0x00000000,
	FinalXor:   0x00000000,
}

var crcTable = crc.NewTable(CRCParameters)

// ComputeCRC pads data with 0xff (erased flash) up to totalSize and returns the CRC of the
// padded region. Data longer than totalSize is checksummed as is.
func ComputeCRC(data []byte, totalSize int) uint32 {
	if pad := totalSize - len(data); pad > 0 {
		padded := make([]byte, 0, totalSize)
		padded = append(padded, data...)
		padded = append(padded, bytes.Repeat([]byte{0xff}, pad)...)
		data = padded
	}
	return uint32(crcTable.CalculateCRC(data))
}

// FirmwareCRC is the CRC the bootloader expects for an application image.
func FirmwareCRC(image []byte) uint32 {
	return ComputeCRC(image, APP_FW_LENGTH)
}
