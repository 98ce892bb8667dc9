package d21

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var (
	testApp = []HIDDevice{
		{Path: "app:0", VendorID: VID, ProductID: PID_APP, Interface: 0},
		{Path: "app:2", VendorID: VID, ProductID: PID_APP, Interface: APP_HID_INTERFACE, UsagePage: VENDOR_USAGE_PAGE},
	}
	testBootloader = HIDDevice{Path: "isp:0", VendorID: VID, ProductID: PID_BOOTLOADER}
)

func testOpenConfig() OpenConfig {
	return OpenConfig{WaitTimeout: time.Second}
}

func TestOpenSwitchesAppIntoBootloader(t *testing.T) {
	bus := newSimBus()
	app := newSimDevice()
	bl := newSimDevice()
	for _, dev := range testApp {
		bus.add(dev, app)
	}
	app.onRebootIntoISP = func() {
		bus.remove(PID_APP)
		bus.add(testBootloader, bl)
	}

	var waits int
	oc := testOpenConfig()
	oc.OnWait = func(int) { waits++ }
	s, err := Open(context.Background(), bus, oc, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if len(bus.opened) != 2 || bus.opened[0] != "app:2" || bus.opened[1] != "isp:0" {
		t.Errorf("unexpected open sequence %v", bus.opened)
	}
	if n := len(app.sentCommands(BOOTLOADER_COMMAND_REBOOT_INTO_ISP)); n != 1 {
		t.Errorf("expected one reboot into ISP, got %d", n)
	}
	if app.closed != 1 {
		t.Errorf("app device must be closed once, got %d", app.closed)
	}
	if waits == 0 {
		t.Error("wait callback not called")
	}
	if len(bl.sent) != 0 {
		t.Errorf("freshly started bootloader needs no reset, got %d frames", len(bl.sent))
	}
}

func TestOpenResetsRunningBootloader(t *testing.T) {
	bus := newSimBus()
	bl := newSimDevice()
	bus.add(testBootloader, bl)

	s, err := Open(context.Background(), bus, testOpenConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if n := len(bl.sentCommands(BOOTLOADER_COMMAND_REBOOT_INTO_ISP)); n != 1 {
		t.Errorf("expected one reset, got %d", n)
	}
}

func TestOpenMinimalInit(t *testing.T) {
	bus := newSimBus()
	app := newSimDevice()
	bl := newSimDevice()
	bus.add(testApp[1], app)
	bus.add(testBootloader, bl)

	oc := testOpenConfig()
	oc.MinimalInit = true
	s, err := Open(context.Background(), bus, oc, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if len(app.sent) != 0 || len(bl.sent) != 0 {
		t.Errorf("minimal init must not talk to the device, sent %d/%d frames", len(app.sent), len(bl.sent))
	}
}

func TestOpenNoDevice(t *testing.T) {
	bus := newSimBus()
	if _, err := Open(context.Background(), bus, testOpenConfig(), WithLogger(quietLogger())); errors.Cause(err) != ErrNoDevice {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestWaitForDeviceTimeout(t *testing.T) {
	bus := newSimBus()
	_, err := WaitForDevice(context.Background(), bus, PID_BOOTLOADER, 0, nil)
	if errors.Cause(err) != ErrNoDevice {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestWaitForDeviceCancelled(t *testing.T) {
	bus := newSimBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WaitForDevice(ctx, bus, PID_BOOTLOADER, time.Minute, nil)
	if errors.Cause(err) != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSelectVendorInterface(t *testing.T) {
	devs := SelectVendorInterface(testApp)
	if len(devs) != 1 || devs[0].Path != "app:2" {
		t.Errorf("expected the vendor interface only, got %v", devs)
	}

	single := []HIDDevice{testBootloader}
	if devs := SelectVendorInterface(single); len(devs) != 1 {
		t.Errorf("a single interface must be kept, got %v", devs)
	}
}
