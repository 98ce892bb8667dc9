// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/mame82/d21flash/d21"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	tmpDumpBlob = "firmware"
	tmpDumpSize = 0
	tmpDumpFile = ""
)

func dumpBlobID(name string, unit d21.Unit) (d21.BlobID, error) {
	switch name {
	case "firmware":
		if unit == d21.UnitSecondary {
			return 0, errors.Wrap(d21.ErrUnsupportedBlob, "firmware of the secondary unit can not be read")
		}
		return d21.BLOB_ID_FIRMWARE, nil
	case "info":
		return unit.DeviceInfoBlob(), nil
	case "blob":
		return unit.DeviceBlob(), nil
	case "crc":
		return unit.FirmwareCRCBlob(), nil
	}
	return 0, errors.Errorf("unknown blob '%s', use firmware, info, blob or crc", name)
}

func printHexDump(base int, data []byte) {
	linebreakCount := 32
	for off := 0; off < len(data); off += linebreakCount {
		end := off + linebreakCount
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%#06x: %02x\n", base+off, data[off:end])
	}
}

func DumpBlob(ctx context.Context, s *d21.Session, unit d21.Unit) error {
	blob, err := dumpBlobID(tmpDumpBlob, unit)
	if err != nil {
		return err
	}
	region, err := d21.Resolve(blob)
	if err != nil {
		return err
	}
	size := tmpDumpSize
	if size <= 0 {
		size = region.Size
	}

	data, err := s.DownloadBlob(ctx, blob, size)
	if err != nil {
		return err
	}
	if tmpDumpFile == "" {
		printHexDump(region.Offset, data)
		return nil
	}
	if err := ioutil.WriteFile(tmpDumpFile, data, 0644); err != nil {
		return errors.Wrap(err, "storing dump")
	}
	fmt.Printf("dumped %d bytes of %s to file '%s'\n", len(data), blob, tmpDumpFile)
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Read back flash content of a blob (firmware, info, blob, crc)",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(DumpBlob)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&tmpDumpBlob, "blob", "b", tmpDumpBlob, "blob to read: firmware, info, blob or crc")
	dumpCmd.Flags().IntVarP(&tmpDumpSize, "size", "n", tmpDumpSize, "number of bytes to read, default is the whole region")
	dumpCmd.Flags().StringVarP(&tmpDumpFile, "outfile", "o", tmpDumpFile, "store the raw data to this file instead of printing it")
	dumpCmd.Flags().BoolVar(&tmpPrimary, "primary", false, "use the primary unit (default)")
	dumpCmd.Flags().BoolVar(&tmpSecondary, "secondary", false, "use the secondary unit")
}
