package ime

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"scanwedge/internal/detector"
	"scanwedge/internal/logging"
)

// IBus D-Bus constants
const (
	IBusFactoryPath      = "/org/freedesktop/IBus/Factory"
	IBusEnginePathPrefix = "/org/freedesktop/IBus/Engine/"
	IBusFactoryInterface = "org.freedesktop.IBus.Factory"
	IBusEngineInterface  = "org.freedesktop.IBus.Engine"
	IBusServiceInterface = "org.freedesktop.IBus.Service"

	DefaultBusName    = "org.scanwedge.IBus"
	DefaultEngineName = "scanwedge"
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("ime: bus name already taken")

// IBusConfig holds IBus engine configuration.
type IBusConfig struct {
	// BusName is the well-known name requested on the bus.
	BusName string

	// EngineName is the name IBus passes to CreateEngine.
	EngineName string

	// Address is the D-Bus address of the IBus daemon. Empty uses the
	// session bus.
	Address string
}

func (c IBusConfig) withDefaults() IBusConfig {
	if c.BusName == "" {
		c.BusName = DefaultBusName
	}
	if c.EngineName == "" {
		c.EngineName = DefaultEngineName
	}
	return c
}

// busConn is the subset of *dbus.Conn the host uses.
type busConn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Close() error
}

func connectBus(address string) (busConn, error) {
	if address == "" {
		return dbus.ConnectSessionBus()
	}
	return dbus.Connect(address)
}

// IBusHost is a detector.Host backed by an IBus engine. Attach connects to
// the bus and exports the engine factory; Detach releases the name and
// closes the connection.
type IBusHost struct {
	cfg     IBusConfig
	logger  *slog.Logger
	connect func(address string) (busConn, error)

	mu      sync.Mutex
	conn    busConn
	handler detector.Handler
	factory *factory
}

// NewIBusHost returns a detached host. A nil logger uses the default logger.
func NewIBusHost(cfg IBusConfig, logger *slog.Logger) *IBusHost {
	if logger == nil {
		logger = logging.Default().WithComponent("ibus").Logger
	}
	return &IBusHost{cfg: cfg.withDefaults(), logger: logger, connect: connectBus}
}

// Attach implements detector.Host.
func (h *IBusHost) Attach(handler detector.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		return detector.ErrAlreadyAttached
	}

	conn, err := h.connect(h.cfg.Address)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}

	reply, err := conn.RequestName(h.cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrNameTaken, h.cfg.BusName)
	}

	f := &factory{host: h, conn: conn, name: h.cfg.EngineName}
	if err := conn.Export(f, IBusFactoryPath, IBusFactoryInterface); err != nil {
		conn.Close()
		return fmt.Errorf("export factory: %w", err)
	}

	h.conn = conn
	h.handler = handler
	h.factory = f

	h.logger.Info("ibus engine registered", "bus_name", h.cfg.BusName, "engine", h.cfg.EngineName)
	return nil
}

// Detach implements detector.Host.
func (h *IBusHost) Detach() error {
	h.mu.Lock()
	conn := h.conn
	f := h.factory
	h.conn = nil
	h.handler = nil
	h.factory = nil
	h.mu.Unlock()

	if conn == nil {
		return nil
	}

	f.destroyAll()
	conn.Export(nil, IBusFactoryPath, IBusFactoryInterface)
	if _, err := conn.ReleaseName(h.cfg.BusName); err != nil {
		h.logger.Warn("release bus name failed", "error", err)
	}
	h.logger.Info("ibus engine unregistered")
	return conn.Close()
}

// process delivers one key press and reports whether the detector
// suppressed it.
func (h *IBusHost) process(keyval uint32) bool {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()

	if handler == nil {
		return false
	}

	var prevented bool
	handler(detector.NewKeyEvent(KeysymName(keyval), func() { prevented = true }))
	return prevented
}

// factory implements the IBus Factory D-Bus interface.
type factory struct {
	host *IBusHost
	conn busConn
	name string

	mu      sync.Mutex
	nextID  uint32
	engines map[dbus.ObjectPath]*engine
}

// CreateEngine creates a new engine instance for IBus.
func (f *factory) CreateEngine(engineName string) (dbus.ObjectPath, *dbus.Error) {
	if engineName != f.name {
		return "", dbus.NewError("org.freedesktop.IBus.NoEngine",
			[]interface{}{"unknown engine: " + engineName})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	path := dbus.ObjectPath(fmt.Sprintf("%s%d", IBusEnginePathPrefix, f.nextID))
	e := &engine{factory: f, path: path}

	if err := f.conn.Export(e, path, IBusEngineInterface); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	if err := f.conn.Export(e, path, IBusServiceInterface); err != nil {
		f.conn.Export(nil, path, IBusEngineInterface)
		return "", dbus.MakeFailedError(err)
	}

	if f.engines == nil {
		f.engines = make(map[dbus.ObjectPath]*engine)
	}
	f.engines[path] = e
	f.host.logger.Debug("ibus engine created", "path", path)
	return path, nil
}

func (f *factory) unexport(path dbus.ObjectPath) {
	f.conn.Export(nil, path, IBusEngineInterface)
	f.conn.Export(nil, path, IBusServiceInterface)
}

func (f *factory) destroy(path dbus.ObjectPath) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.engines[path]; ok {
		delete(f.engines, path)
		f.unexport(path)
	}
}

func (f *factory) destroyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for path := range f.engines {
		f.unexport(path)
	}
	f.engines = nil
}

// engine implements org.freedesktop.IBus.Engine for one input context.
// Only ProcessKeyEvent does real work; the rest acknowledge the call.
type engine struct {
	factory *factory
	path    dbus.ObjectPath
}

// ProcessKeyEvent handles key press/release events from IBus.
// Returns true if the key was consumed, false to pass through.
func (e *engine) ProcessKeyEvent(keyval, keycode, state uint32) (bool, *dbus.Error) {
	if state&IBusReleaseMask != 0 {
		return false, nil
	}
	return e.factory.host.process(keyval), nil
}

func (e *engine) FocusIn() *dbus.Error                                   { return nil }
func (e *engine) FocusOut() *dbus.Error                                  { return nil }
func (e *engine) Enable() *dbus.Error                                    { return nil }
func (e *engine) Disable() *dbus.Error                                   { return nil }
func (e *engine) Reset() *dbus.Error                                     { return nil }
func (e *engine) SetCapabilities(caps uint32) *dbus.Error                { return nil }
func (e *engine) SetContentType(purpose, hints uint32) *dbus.Error       { return nil }
func (e *engine) SetCursorLocation(x, y, w, h int32) *dbus.Error         { return nil }
func (e *engine) PropertyActivate(name string, state uint32) *dbus.Error { return nil }
func (e *engine) PageUp() *dbus.Error                                    { return nil }
func (e *engine) PageDown() *dbus.Error                                  { return nil }
func (e *engine) CursorUp() *dbus.Error                                  { return nil }
func (e *engine) CursorDown() *dbus.Error                                { return nil }

func (e *engine) CandidateClicked(index, button, state uint32) *dbus.Error {
	return nil
}

// Destroy implements org.freedesktop.IBus.Service.
func (e *engine) Destroy() *dbus.Error {
	e.factory.destroy(e.path)
	return nil
}

type xmlComponent struct {
	XMLName     xml.Name    `xml:"component"`
	Name        string      `xml:"name"`
	Description string      `xml:"description"`
	Exec        string      `xml:"exec"`
	Version     string      `xml:"version"`
	TextDomain  string      `xml:"textdomain"`
	Engines     []xmlEngine `xml:"engines>engine"`
}

type xmlEngine struct {
	Name        string `xml:"name"`
	LongName    string `xml:"longname"`
	Description string `xml:"description"`
	Language    string `xml:"language"`
	Layout      string `xml:"layout"`
	Rank        int    `xml:"rank"`
}

// ComponentXML renders the IBus component file that registers the engine.
// exec is the command IBus runs to start it.
func ComponentXML(cfg IBusConfig, exec, version string) ([]byte, error) {
	cfg = cfg.withDefaults()
	c := xmlComponent{
		Name:        cfg.BusName,
		Description: "Barcode scanner keyboard-wedge detector",
		Exec:        exec,
		Version:     version,
		TextDomain:  "scanwedge",
		Engines: []xmlEngine{{
			Name:        cfg.EngineName,
			LongName:    "Scanwedge",
			Description: "Passes typing through and captures barcode scans",
			Language:    "other",
			Layout:      "default",
		}},
	}
	out, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
