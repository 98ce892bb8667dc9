package d21

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	waitPollInterval = 100 * time.Millisecond

	DefaultWaitTimeout = 10 * time.Second
	DefaultResetDelay  = time.Second
)

type OpenConfig struct {
	// MinimalInit opens the bootloader as is, without app switch or reset.
	MinimalInit bool
	// WaitTimeout bounds the wait for the bootloader to enumerate after leaving the app.
	WaitTimeout time.Duration
	// ResetDelay is slept after resetting an already running bootloader.
	ResetDelay time.Duration
	// OnWait is called on every enumeration attempt while waiting.
	OnWait func(attempt int)
}

func DefaultOpenConfig() OpenConfig {
	return OpenConfig{
		WaitTimeout: DefaultWaitTimeout,
		ResetDelay:  DefaultResetDelay,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitForDevice polls the bus until a device with pid shows up or timeout passes.
func WaitForDevice(ctx context.Context, bus Bus, pid uint16, timeout time.Duration, onWait func(attempt int)) (HIDDevice, error) {
	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		if onWait != nil {
			onWait(attempt)
		}
		devs, err := bus.Enumerate(VID, pid)
		if err != nil {
			return HIDDevice{}, err
		}
		if devs = SelectVendorInterface(devs); len(devs) > 0 {
			return devs[0], nil
		}
		if !time.Now().Before(deadline) {
			return HIDDevice{}, errors.Wrapf(ErrNoDevice, "device %04x:%04x did not enumerate within %s", VID, pid, timeout)
		}
		if err := sleep(ctx, waitPollInterval); err != nil {
			return HIDDevice{}, err
		}
	}
}

func findDevice(bus Bus, pid uint16) (HIDDevice, bool, error) {
	devs, err := bus.Enumerate(VID, pid)
	if err != nil {
		return HIDDevice{}, false, err
	}
	devs = SelectVendorInterface(devs)
	if len(devs) == 0 {
		return HIDDevice{}, false, nil
	}
	return devs[0], true, nil
}

// Open returns a session on the bootloader. A device running the app is switched into
// the bootloader first, a device already in the bootloader gets its protocol state reset.
func Open(ctx context.Context, bus Bus, oc OpenConfig, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger

	if !oc.MinimalInit {
		app, found, err := findDevice(bus, PID_APP)
		if err != nil {
			return nil, err
		}
		if found {
			logger.Info("Looks like we are running an app.")
			if err := rebootApp(bus, app, opts...); err != nil {
				return nil, err
			}
			bl, err := WaitForDevice(ctx, bus, PID_BOOTLOADER, oc.WaitTimeout, oc.OnWait)
			if err != nil {
				return nil, errors.Wrap(err, "switching to ISP mode")
			}
			return openSession(bus, bl, opts...)
		}
	}

	bl, found, err := findDevice(bus, PID_BOOTLOADER)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoDevice
	}
	s, err := openSession(bus, bl, opts...)
	if err != nil {
		return nil, err
	}
	if oc.MinimalInit {
		return s, nil
	}

	if err := s.Reset(); err != nil {
		s.Close()
		return nil, err
	}
	if err := sleep(ctx, oc.ResetDelay); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func rebootApp(bus Bus, app HIDDevice, opts ...Option) error {
	t, err := bus.Open(app)
	if err != nil {
		return err
	}
	s := NewSession(t, opts...)
	defer s.Close()
	return s.RebootIntoISP()
}

func openSession(bus Bus, dev HIDDevice, opts ...Option) (*Session, error) {
	t, err := bus.Open(dev)
	if err != nil {
		return nil, err
	}
	s := NewSession(t, opts...)
	s.device = dev
	s.log.WithField("device", dev.String()).Debug("found a D21 bootloader device")
	return s, nil
}
