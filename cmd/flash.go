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

var (
	tmpVerify        = false
	tmpSingletonMode = false
)

// FlashFirmware programs the image at path, reboots into the app and waits for it to show up.
func FlashFirmware(ctx context.Context, bus d21.Bus, s *d21.Session, path string) (appStarted bool, err error) {
	fw, err := d21.LoadFirmware(path)
	if err != nil {
		return false, err
	}
	fmt.Printf("Opened firmware image '%s'\n", path)
	fmt.Println(fw.String())

	if tmpSingletonMode {
		if err := s.SetSingletonMode(); err != nil {
			return false, err
		}
	}
	if err := s.UploadFirmware(ctx, fw.Image, tmpVerify); err != nil {
		return false, err
	}
	if err := s.Reboot(); err != nil {
		return false, err
	}
	s.Close()

	return waitForApp(ctx, bus, tmpWaitTimeout)
}

var programCmd = &cobra.Command{
	Use:   "program <firmware>",
	Short: "Program an application firmware image (raw binary or Intel HEX)",
	Long: `Erase the application flash, program the given image and reboot into it.

Files ending in .hex, .ihex or .ihx are parsed as Intel HEX, all other files are
programmed as raw binary starting at the application start address.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		appStarted := false
		ok := withBootloader(func(ctx context.Context, bus d21.Bus, s *d21.Session) (err error) {
			appStarted, err = FlashFirmware(ctx, bus, s, args[0])
			return err
		})
		if !ok {
			return
		}
		if appStarted {
			fmt.Println("SUCCESS")
		} else {
			exitCode = 1
			fmt.Println("TIMEOUT")
		}
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the application firmware",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			if tmpSingletonMode {
				if err := s.SetSingletonMode(); err != nil {
					return err
				}
			}
			return s.Erase(ctx, d21.BLOB_ID_FIRMWARE)
		})
	},
}

func init() {
	rootCmd.AddCommand(programCmd)
	rootCmd.AddCommand(eraseCmd)

	programCmd.Flags().BoolVar(&tmpVerify, "verify", false, "read the programmed image back and verify it")
	programCmd.Flags().BoolVar(&tmpSingletonMode, "singleton-mode", false, "ignore the secondary MCU")
	eraseCmd.Flags().BoolVar(&tmpSingletonMode, "singleton-mode", false, "ignore the secondary MCU")
}
