package keystroke

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"time"
)

// inputEventSize is sizeof(struct input_event) on 64-bit Linux.
const inputEventSize = 24

// inputEvent matches the Linux input_event struct.
type inputEvent struct {
	TimeSec  int64
	TimeUsec int64
	Type     uint16
	Code     uint16
	Value    int32
}

func decodeEvent(buf []byte) inputEvent {
	return inputEvent{
		TimeSec:  int64(binary.NativeEndian.Uint64(buf[0:8])),
		TimeUsec: int64(binary.NativeEndian.Uint64(buf[8:16])),
		Type:     binary.NativeEndian.Uint16(buf[16:18]),
		Code:     binary.NativeEndian.Uint16(buf[18:20]),
		Value:    int32(binary.NativeEndian.Uint32(buf[20:24])),
	}
}

func encodeEvent(ev inputEvent) []byte {
	buf := make([]byte, inputEventSize)
	binary.NativeEndian.PutUint64(buf[0:8], uint64(ev.TimeSec))
	binary.NativeEndian.PutUint64(buf[8:16], uint64(ev.TimeUsec))
	binary.NativeEndian.PutUint16(buf[16:18], ev.Type)
	binary.NativeEndian.PutUint16(buf[18:20], ev.Code)
	binary.NativeEndian.PutUint32(buf[20:24], uint32(ev.Value))
	return buf
}

// Time returns the kernel timestamp of the event.
func (ev inputEvent) Time() time.Time {
	return time.Unix(ev.TimeSec, ev.TimeUsec*int64(time.Microsecond))
}

// parseInputDevices reads the /proc/bus/input/devices format and returns
// devices that have both a kbd and an event handler.
func parseInputDevices(r io.Reader) []Keyboard {
	var (
		keyboards []Keyboard
		current   Keyboard
		isKbd     bool
	)

	flush := func() {
		if isKbd && current.Path != "" {
			keyboards = append(keyboards, current)
		}
		current = Keyboard{}
		isKbd = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			flush()

		// I: Bus=0003 Vendor=05e0 Product=1200 Version=0110
		case strings.HasPrefix(line, "I:"):
			for _, part := range strings.Fields(line[2:]) {
				k, v, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				switch k {
				case "Bus":
					current.Bus = busName(v)
				case "Vendor":
					if n, err := strconv.ParseUint(v, 16, 16); err == nil {
						current.VendorID = uint16(n)
					}
				case "Product":
					if n, err := strconv.ParseUint(v, 16, 16); err == nil {
						current.ProductID = uint16(n)
					}
				}
			}

		// N: Name="Symbol Bar Code Scanner"
		case strings.HasPrefix(line, "N: Name="):
			current.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)

		case strings.HasPrefix(line, "P: Phys="):
			current.Phys = strings.TrimPrefix(line, "P: Phys=")

		// H: Handlers=sysrq kbd event3 leds
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				switch {
				case h == "kbd":
					isKbd = true
				case strings.HasPrefix(h, "event"):
					current.Path = "/dev/input/" + h
				}
			}
		}
	}
	flush()

	return keyboards
}

func busName(hex string) string {
	switch strings.ToLower(hex) {
	case "0003":
		return "usb"
	case "0005":
		return "bluetooth"
	case "0011":
		return "i8042"
	case "0019":
		return "host"
	case "0006":
		return "virtual"
	default:
		return hex
	}
}
