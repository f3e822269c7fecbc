//go:build linux

package keystroke

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"scanwedge/internal/detector"
	"scanwedge/internal/logging"
)

// ioctl requests from linux/input.h.
const (
	eviocgrab = 0x40044590 // _IOW('E', 0x90, int)
	nameLen   = 256
)

func eviocgname(n uintptr) uintptr {
	return 0x80000000 | n<<16 | 'E'<<8 | 0x06 // _IOC(_IOC_READ, 'E', 0x06, n)
}

// EvdevHost delivers key presses from one evdev device.
//
// evdev cannot withhold a single event, so PreventDefault is a no-op here;
// EvdevConfig.Grab withholds every key of the device instead.
type EvdevHost struct {
	cfg    EvdevConfig
	logger *slog.Logger
	open   func(path string) (io.ReadCloser, error)

	mu      sync.Mutex
	dev     io.ReadCloser
	path    string
	handler detector.Handler
	lost    chan struct{}
	lostErr error
}

// NewEvdevHost returns a detached host for cfg. A nil logger uses the
// default logger.
func NewEvdevHost(cfg EvdevConfig, logger *slog.Logger) *EvdevHost {
	if logger == nil {
		logger = logging.Default().WithComponent("evdev").Logger
	}
	return &EvdevHost{cfg: cfg, logger: logger, open: openDevice}
}

// Device returns the path of the attached device, or the configured path
// while detached.
func (h *EvdevHost) Device() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.path != "" {
		return h.path
	}
	return h.cfg.Device
}

// Attach opens the device and starts the read loop.
func (h *EvdevHost) Attach(handler detector.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev != nil {
		return detector.ErrAlreadyAttached
	}

	path := h.cfg.Device
	if path == "" {
		kbds, err := ListKeyboards()
		if err != nil {
			return fmt.Errorf("find keyboard: %w", err)
		}
		if len(kbds) == 0 {
			return ErrNoKeyboard
		}
		path = kbds[0].Path
	}

	dev, err := h.open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	name := path
	if f, ok := dev.(*os.File); ok {
		if n, err := deviceName(f); err == nil {
			name = n
		}
		if h.cfg.Grab {
			if err := grab(f); err != nil {
				dev.Close()
				return fmt.Errorf("grab %s: %w", path, err)
			}
		}
	}

	h.dev = dev
	h.path = path
	h.handler = handler
	h.lost = make(chan struct{})
	h.lostErr = nil
	go h.readLoop(dev, handler)

	h.logger.Info("evdev attached", "device", path, "name", name, "grab", h.cfg.Grab)
	return nil
}

// Detach closes the device. It does not wait for the read loop, which may
// be the goroutine calling Detach.
func (h *EvdevHost) Detach() error {
	h.mu.Lock()
	dev := h.dev
	h.dev = nil
	h.handler = nil
	h.path = ""
	h.mu.Unlock()

	if dev == nil {
		return nil
	}
	h.logger.Info("evdev detached")
	return dev.Close()
}

// Lost implements detector.LossReporter. The channel closes when a read
// fails, typically because the device was unplugged.
func (h *EvdevHost) Lost() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lost
}

// Err implements detector.LossReporter.
func (h *EvdevHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lostErr
}

// fail detaches dev after a read error unless it was already replaced.
func (h *EvdevHost) fail(dev io.ReadCloser, err error) {
	h.mu.Lock()
	if h.dev != dev {
		h.mu.Unlock()
		return
	}
	path := h.path
	h.dev = nil
	h.handler = nil
	h.path = ""
	h.lostErr = err
	close(h.lost)
	h.mu.Unlock()

	h.logger.Error("evdev device lost", "device", path, "error", err)
	dev.Close()
}

// current reports whether dev is still the attached device.
func (h *EvdevHost) current(dev io.ReadCloser) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev == dev
}

func (h *EvdevHost) readLoop(dev io.ReadCloser, handler detector.Handler) {
	var mods modifiers
	buf := make([]byte, inputEventSize)

	for {
		if _, err := io.ReadFull(dev, buf); err != nil {
			h.fail(dev, err)
			return
		}

		ev := decodeEvent(buf)
		if ev.Type != evKey {
			continue
		}
		key, ok := mods.update(ev.Code, ev.Value)
		if !ok {
			continue
		}
		if !h.current(dev) {
			return
		}
		handler(detector.NewKeyEvent(key, nil))
	}
}

func openDevice(path string) (io.ReadCloser, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// grab issues EVIOCGRAB. Closing the file releases the grab.
func grab(f *os.File) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := raw.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetInt(int(fd), eviocgrab, 1)
	}); err != nil {
		return err
	}
	return ioctlErr
}

// deviceName issues EVIOCGNAME.
func deviceName(f *os.File) (string, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return "", err
	}
	buf := make([]byte, nameLen)
	var errno syscall.Errno
	if err := raw.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgname(nameLen), uintptr(unsafe.Pointer(&buf[0])))
	}); err != nil {
		return "", err
	}
	if errno != 0 {
		return "", errno
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// ListKeyboards returns the keyboard devices listed in
// /proc/bus/input/devices.
func ListKeyboards() ([]Keyboard, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotAvailable
		}
		return nil, err
	}
	defer f.Close()
	return parseInputDevices(f), nil
}
