// Package bletest provides an in-memory ble.Adapter for tests. The fake
// records every transport call, can emit notifications in response to
// writes, and can simulate link loss and services-changed topology swaps.
package bletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/chaz8081/gattprobe/internal/ble"
)

// Op names recorded in Call.Op.
const (
	OpServices       = "services"
	OpRead           = "read"
	OpWrite          = "write"
	OpSubscribe      = "subscribe"
	OpUnsubscribe    = "unsubscribe"
	OpReadDescriptor = "read-descriptor"
	OpDisconnect     = "disconnect"
)

// Call is one recorded transport call.
type Call struct {
	Op           string
	UUID         string
	Data         []byte
	WithResponse bool
}

// Adapter is a fake ble.Adapter. Each successful Connect creates a fresh
// Conn from Template.
type Adapter struct {
	// ConnectHook runs at the start of every Connect, outside the lock.
	ConnectHook func(address string)

	mu          sync.Mutex
	devices     []ble.Device
	connectErrs []error
	template    func() *Conn
	conns       []*Conn
	connects    int
}

// NewAdapter returns a fake adapter whose connections are built by
// template.
func NewAdapter(devices []ble.Device, template func() *Conn) *Adapter {
	return &Adapter{devices: devices, template: template}
}

// FailConnects makes the next len(errs) Connect calls fail with errs in
// order. A nil entry lets that attempt succeed.
func (a *Adapter) FailConnects(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErrs = append(a.connectErrs, errs...)
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) Scan(_ context.Context, _ string) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ble.Device, len(a.devices))
	copy(out, a.devices)
	return out, nil
}

func (a *Adapter) Connect(_ context.Context, address string) (ble.Connection, error) {
	if hook := a.ConnectHook; hook != nil {
		hook(address)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if len(a.connectErrs) > 0 {
		err := a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	conn := a.template()
	conn.Address = address
	conn.mu.Lock()
	conn.connected = true
	conn.mu.Unlock()
	a.conns = append(a.conns, conn)
	return conn, nil
}

// Connects returns how many Connect calls were made.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Latest returns the most recently created connection, or nil.
func (a *Adapter) Latest() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Conns returns every connection created so far.
func (a *Adapter) Conns() []*Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Conn, len(a.conns))
	copy(out, a.conns)
	return out
}

var _ ble.Adapter = (*Adapter)(nil)

// Conn is a fake ble.Connection.
type Conn struct {
	Address string

	// WriteHook runs after every successful write, outside the lock, so it
	// may call Notify or Drop.
	WriteHook func(c *Conn, uuid string, data []byte)
	// ReadHook runs before every read, outside the lock.
	ReadHook func(c *Conn, uuid string)

	mu           sync.Mutex
	services     []ble.Service
	values       map[string][]byte
	descValues   map[uint16][]byte
	errs         map[string]error // keyed by op + " " + uuid
	handlers     map[string]ble.NotificationHandler
	calls        []Call
	connected    bool
	disconnectCb func()
}

// NewConn returns a connection exposing services.
func NewConn(services ...ble.Service) *Conn {
	return &Conn{
		services:   services,
		values:     make(map[string][]byte),
		descValues: make(map[uint16][]byte),
		errs:       make(map[string]error),
		handlers:   make(map[string]ble.NotificationHandler),
	}
}

// SetServices replaces the exposed topology, as after a services-changed
// indication.
func (c *Conn) SetServices(services ...ble.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = services
}

// SetValue sets the value returned by reads of uuid.
func (c *Conn) SetValue(uuid string, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[ble.NormalizeUUID(uuid)] = v
}

// SetDescriptorValue sets the value returned for a descriptor handle.
func (c *Conn) SetDescriptorValue(handle uint16, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descValues[handle] = v
}

// FailOp makes every op on uuid return err. A nil err clears it.
func (c *Conn) FailOp(op, uuid string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := op + " " + ble.NormalizeUUID(uuid)
	if err == nil {
		delete(c.errs, key)
		return
	}
	c.errs[key] = err
}

func (c *Conn) record(op, uuid string, data []byte, withResponse bool) {
	var cp []byte
	if data != nil {
		cp = make([]byte, len(data))
		copy(cp, data)
	}
	c.calls = append(c.calls, Call{Op: op, UUID: uuid, Data: cp, WithResponse: withResponse})
}

func (c *Conn) known(uuid string) bool {
	for _, s := range c.services {
		for _, ch := range s.Characteristics {
			if ch.UUID == uuid {
				return true
			}
		}
	}
	return false
}

// check runs the common preconditions; caller holds mu.
func (c *Conn) check(op, uuid string) error {
	if !c.connected {
		return ble.ErrNotConnected
	}
	if err, ok := c.errs[op+" "+uuid]; ok {
		return err
	}
	if !c.known(uuid) {
		return fmt.Errorf("characteristic %s: %w", uuid, ble.ErrNotFound)
	}
	return nil
}

func (c *Conn) Services(_ context.Context) ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpServices, "", nil, false)
	if !c.connected {
		return nil, ble.ErrNotConnected
	}
	if err, ok := c.errs[OpServices+" "]; ok {
		return nil, err
	}
	out := make([]ble.Service, len(c.services))
	copy(out, c.services)
	return out, nil
}

func (c *Conn) Read(_ context.Context, uuid string) ([]byte, error) {
	uuid = ble.NormalizeUUID(uuid)
	if hook := c.ReadHook; hook != nil {
		hook(c, uuid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpRead, uuid, nil, false)
	if err := c.check(OpRead, uuid); err != nil {
		return nil, err
	}
	v := c.values[uuid]
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (c *Conn) Write(_ context.Context, uuid string, data []byte, withResponse bool) error {
	uuid = ble.NormalizeUUID(uuid)
	c.mu.Lock()
	c.record(OpWrite, uuid, data, withResponse)
	err := c.check(OpWrite, uuid)
	hook := c.WriteHook
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(c, uuid, data)
	}
	return nil
}

func (c *Conn) Subscribe(_ context.Context, uuid string, handler ble.NotificationHandler) error {
	uuid = ble.NormalizeUUID(uuid)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpSubscribe, uuid, nil, false)
	if err := c.check(OpSubscribe, uuid); err != nil {
		return err
	}
	c.handlers[uuid] = handler
	return nil
}

func (c *Conn) Unsubscribe(_ context.Context, uuid string) error {
	uuid = ble.NormalizeUUID(uuid)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpUnsubscribe, uuid, nil, false)
	if err := c.check(OpUnsubscribe, uuid); err != nil {
		return err
	}
	delete(c.handlers, uuid)
	return nil
}

func (c *Conn) ReadDescriptor(_ context.Context, charUUID string, d ble.Descriptor) ([]byte, error) {
	charUUID = ble.NormalizeUUID(charUUID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpReadDescriptor, charUUID, nil, false)
	if err := c.check(OpReadDescriptor, charUUID); err != nil {
		return nil, err
	}
	v, ok := c.descValues[d.Handle]
	if !ok {
		return nil, fmt.Errorf("descriptor 0x%04x: %w", d.Handle, ble.ErrNotFound)
	}
	return v, nil
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpDisconnect, "", nil, false)
	c.connected = false
	return nil
}

func (c *Conn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// Drop simulates link loss: the link goes down and the disconnect
// callback fires.
func (c *Conn) Drop() {
	c.mu.Lock()
	c.connected = false
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Notify delivers data to the handler subscribed on uuid, if any.
// It reports whether a handler was present.
func (c *Conn) Notify(uuid string, data []byte) bool {
	uuid = ble.NormalizeUUID(uuid)
	c.mu.Lock()
	h := c.handlers[uuid]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(uuid, data)
	return true
}

// Subscribed reports whether a handler is registered on uuid.
func (c *Conn) Subscribed(uuid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[ble.NormalizeUUID(uuid)]
	return ok
}

// Calls returns recorded calls, filtered by op when op is non-empty.
func (c *Conn) Calls(op string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Writes returns the payloads written to uuid, in order.
func (c *Conn) Writes(uuid string) [][]byte {
	uuid = ble.NormalizeUUID(uuid)
	var out [][]byte
	for _, call := range c.Calls(OpWrite) {
		if call.UUID == uuid {
			out = append(out, call.Data)
		}
	}
	return out
}

// Reads returns the UUIDs read, in order.
func (c *Conn) Reads() []string {
	var out []string
	for _, call := range c.Calls(OpRead) {
		out = append(out, call.UUID)
	}
	return out
}

var _ ble.Connection = (*Conn)(nil)

// Char is a shorthand for building a characteristic.
func Char(uuid string, props ...ble.Property) ble.Characteristic {
	return ble.Characteristic{UUID: ble.NormalizeUUID(uuid), Properties: ble.NewProperties(props...)}
}

// Svc is a shorthand for building a service.
func Svc(uuid string, chars ...ble.Characteristic) ble.Service {
	return ble.Service{UUID: ble.NormalizeUUID(uuid), Characteristics: chars}
}
