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

	"github.com/mame82/d21flash/d21"
	"github.com/spf13/cobra"
)

func PrintBootloaderInfo(ctx context.Context, s *d21.Session) error {
	info, err := s.Info(ctx)
	if err != nil {
		return err
	}

	dev := s.Device()
	fmt.Println("Found a D21 bootloader device")
	fmt.Println("----------------------------")
	fmt.Printf("Path: %s\n", dev.Path)
	fmt.Printf("VID: %#x\n", dev.VendorID)
	fmt.Printf("PID: %#x\n", dev.ProductID)
	fmt.Print(info.String())
	fmt.Println("----------------------------")
	return nil
}

var getinfoCmd = &cobra.Command{
	Use:   "getinfo",
	Short: "Print bootloader build time, device info and MCU state of both units",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(PrintBootloaderInfo)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List D21 devices in app and bootloader mode",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		bus, err := newBus()
		if err != nil {
			reportError(err)
			return
		}
		defer bus.Close()

		found := 0
		for _, mode := range []struct {
			name string
			pid  uint16
		}{{"app", d21.PID_APP}, {"bootloader", d21.PID_BOOTLOADER}} {
			devs, err := bus.Enumerate(d21.VID, mode.pid)
			if err != nil {
				reportError(err)
				return
			}
			for _, dev := range d21.SelectVendorInterface(devs) {
				fmt.Printf("%-10s %s\n", mode.name, dev.String())
				found++
			}
		}
		if found == 0 {
			fmt.Println("no device found")
		}
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Leave the bootloader and start the application",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.Reboot()
		})
	},
}

func init() {
	rootCmd.AddCommand(getinfoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resetCmd)
}
