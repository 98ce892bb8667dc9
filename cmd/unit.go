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
	"strconv"

	"github.com/mame82/d21flash/d21"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	tmpPrimary   = false
	tmpSecondary = false
)

func selectedUnit() (d21.Unit, error) {
	if tmpPrimary && tmpSecondary {
		return d21.UnitPrimary, errors.New("only one of --primary and --secondary can be given")
	}
	if tmpSecondary {
		return d21.UnitSecondary, nil
	}
	return d21.UnitPrimary, nil
}

// runUnit resolves the unit flags before opening the device.
func runUnit(fn func(ctx context.Context, s *d21.Session, unit d21.Unit) error) {
	unit, err := selectedUnit()
	if err != nil {
		reportError(err)
		return
	}
	runBootloader(func(ctx context.Context, s *d21.Session) error {
		return fn(ctx, s, unit)
	})
}

var gethwidCmd = &cobra.Command{
	Use:   "gethwid",
	Short: "Print the stored hardware ID of a unit",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			info, err := s.DeviceInfo(ctx, unit)
			if err != nil {
				return err
			}
			fmt.Printf("HW ID: %d\n", info.HardwareID)
			return nil
		})
	},
}

var sethwidCmd = &cobra.Command{
	Use:   "sethwid <hardware id>",
	Short: "Store a new hardware ID for a unit, keeping its serial",
	Long:  "",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hwID, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			reportError(errors.Wrapf(err, "invalid hardware ID '%s'", args[0]))
			return
		}
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			return s.SetHardwareID(ctx, unit, uint32(hwID))
		})
	},
}

var getserialCmd = &cobra.Command{
	Use:   "getserial",
	Short: "Print the stored serial number of a unit",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			info, err := s.DeviceInfo(ctx, unit)
			if err != nil {
				return err
			}
			serial := "None"
			if info.HasSerial {
				serial = info.Serial
			}
			fmt.Printf("Serial: %s\n", serial)
			return nil
		})
	},
}

var setserialCmd = &cobra.Command{
	Use:   "setserial <serial>",
	Short: "Store a new serial number for a unit, keeping its hardware ID",
	Long:  "",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			return s.SetSerial(ctx, unit, args[0])
		})
	},
}

var getblobCmd = &cobra.Command{
	Use:   "getblob",
	Short: "Print the device blob of a unit",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			blob, err := s.MteBlob(ctx, unit)
			if err != nil {
				return err
			}
			data := "None"
			if blob.Valid {
				data = blob.Data
			}
			fmt.Printf("BLOB DATA: \"%s\"\n", data)
			return nil
		})
	},
}

var setblobCmd = &cobra.Command{
	Use:   "setblob <data>",
	Short: "Store a new device blob for a unit",
	Long:  "",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runUnit(func(ctx context.Context, s *d21.Session, unit d21.Unit) error {
			return s.SetMteBlob(ctx, unit, args[0])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{gethwidCmd, sethwidCmd, getserialCmd, setserialCmd, getblobCmd, setblobCmd} {
		rootCmd.AddCommand(c)
		c.Flags().BoolVar(&tmpPrimary, "primary", false, "use the primary unit (default)")
		c.Flags().BoolVar(&tmpSecondary, "secondary", false, "use the secondary unit")
	}
}
