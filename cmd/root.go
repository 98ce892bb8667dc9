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
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/mame82/d21flash/d21"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	tmpBackend     = "hidapi"
	tmpVerbose     = false
	tmpLogLevel    = "info"
	tmpLogFile     = ""
	tmpShowInOut   = false
	tmpAckRetries  = d21.DefaultAckRetries
	tmpReadRetries = d21.DefaultReadRetries
	tmpWaitTimeout = d21.DefaultWaitTimeout
	tmpMinimalInit = false

	exitCode = 0
)

var rootCmd = &cobra.Command{
	Use:   "d21flash",
	Short: "Firmware update and provisioning tool for the D21 controller bootloader",
	Long: `d21flash talks to the USB HID bootloader of the D21 based controller.
It programs application firmware, maintains the stored firmware CRCs and reads or
writes the per unit device info (serial, hardware ID) and device blobs.

A controller running its application is switched into the bootloader first.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func init() {
	cobra.OnInitialize(initLogging)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&tmpBackend, "backend", tmpBackend, "USB backend to use: hidapi or libusb")
	pf.BoolVarP(&tmpVerbose, "verbose", "v", tmpVerbose, "verbose output (same as --log-level debug)")
	pf.StringVar(&tmpLogLevel, "log-level", tmpLogLevel, "log level (trace, debug, info, warn, error)")
	pf.StringVar(&tmpLogFile, "log-file", tmpLogFile, "write log output to a rotated file instead of stderr")
	pf.BoolVar(&tmpShowInOut, "show-io", tmpShowInOut, "log every feature report sent and received (needs debug level)")
	pf.IntVar(&tmpAckRetries, "ack-retries", tmpAckRetries, "number of ACK polls before an erase times out")
	pf.IntVar(&tmpReadRetries, "read-retries", tmpReadRetries, "number of replies accepted for one debug read")
	pf.DurationVar(&tmpWaitTimeout, "wait-timeout", tmpWaitTimeout, "time to wait for the device to enumerate after a reboot")
	pf.BoolVar(&tmpMinimalInit, "minimal-init", tmpMinimalInit, "open the bootloader as is, without switching from the app or resetting")
}

func initLogging() {
	var out io.Writer = os.Stderr
	if tmpLogFile != "" {
		out = &lumberjack.Logger{
			Filename:   tmpLogFile,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
		}
	}
	log.SetOutput(out)

	level, err := log.ParseLevel(tmpLogLevel)
	if err != nil {
		log.WithError(err).Warn("invalid log level, using info")
		level = log.InfoLevel
	}
	if tmpVerbose && level < log.DebugLevel {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

func newBus() (d21.Bus, error) {
	switch tmpBackend {
	case "hidapi":
		return d21.NewHIDAPIBus()
	case "libusb":
		return d21.NewLibUSBBus()
	}
	return nil, errors.Errorf("unknown backend '%s', use hidapi or libusb", tmpBackend)
}

func sessionOptions() []d21.Option {
	return []d21.Option{
		d21.WithLogger(log.StandardLogger()),
		d21.WithAckRetries(tmpAckRetries),
		d21.WithReadRetries(tmpReadRetries),
		d21.WithShowInOut(tmpShowInOut),
		d21.WithProgress(newProgressReporter().Report),
	}
}

func openConfig(onWait func(int)) d21.OpenConfig {
	oc := d21.DefaultOpenConfig()
	oc.MinimalInit = tmpMinimalInit
	oc.WaitTimeout = tmpWaitTimeout
	oc.OnWait = onWait
	return oc
}

// signalContext is cancelled on the first interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// withBootloader opens the bootloader, runs fn and closes the device again. Errors are
// printed, the process exit code is set accordingly.
func withBootloader(fn func(ctx context.Context, bus d21.Bus, s *d21.Session) error) bool {
	ctx, cancel := signalContext()
	defer cancel()

	err := func() error {
		bus, err := newBus()
		if err != nil {
			return err
		}
		defer bus.Close()

		spinner := newWaitSpinner("Waiting for bootloader to enumerate: ")
		s, err := d21.Open(ctx, bus, openConfig(spinner.Tick), sessionOptions()...)
		spinner.Finish()
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(ctx, bus, s)
	}()
	if err != nil {
		reportError(err)
		return false
	}
	return true
}

// runBootloader is withBootloader for commands that print SUCCESS on completion.
func runBootloader(fn func(ctx context.Context, s *d21.Session) error) {
	ok := withBootloader(func(ctx context.Context, _ d21.Bus, s *d21.Session) error {
		return fn(ctx, s)
	})
	if ok {
		fmt.Println("SUCCESS")
	}
}

func reportError(err error) {
	exitCode = 1
	log.WithError(err).Debug("command failed")
	switch errors.Cause(err) {
	case d21.ErrTimeout:
		fmt.Println("Timeout waiting for Flash erase")
	case d21.ErrVerify:
		fmt.Println("Programmed data mismatch")
	default:
		fmt.Println(err)
	}
}

// waitForApp waits for the application firmware to enumerate after a reboot. Running out
// of time is not an error, the app may simply take longer to start.
func waitForApp(ctx context.Context, bus d21.Bus, timeout time.Duration) (started bool, err error) {
	spinner := newWaitSpinner("Waiting for app to enumerate: ")
	defer spinner.Finish()
	_, err = d21.WaitForDevice(ctx, bus, d21.PID_APP, timeout, spinner.Tick)
	if errors.Cause(err) == d21.ErrNoDevice {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
