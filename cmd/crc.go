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

	"github.com/mame82/d21flash/d21"
	"github.com/spf13/cobra"
)

var addcrcCmd = &cobra.Command{
	Use:   "addcrc",
	Short: "Store the known good firmware CRC on both units",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.CRCFixup(ctx, true)
		})
	},
}

var breakcrcCmd = &cobra.Command{
	Use:   "breakcrc",
	Short: "Invalidate the firmware CRC of the primary unit, the bootloader stays active on next boot",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.CRCFixup(ctx, false)
		})
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the bootloader region",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.SetBootloaderLock(true)
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the bootloader region",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.SetBootloaderLock(false)
		})
	},
}

var forcecrcCmd = &cobra.Command{
	Use:   "forcecrc [on|off]",
	Short: "Make the bootloader check the firmware CRC on every start",
	Long:  "",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		on := len(args) == 0 || args[0] != "off"
		runBootloader(func(ctx context.Context, s *d21.Session) error {
			return s.SetForceCRCCheck(on)
		})
	},
}

func init() {
	rootCmd.AddCommand(addcrcCmd)
	rootCmd.AddCommand(breakcrcCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(forcecrcCmd)
}
