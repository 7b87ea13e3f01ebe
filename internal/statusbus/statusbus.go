// Package statusbus exposes the daemon's current mode, preedit text, and
// recording register on the D-Bus session bus for status-bar integrations.
// It is purely observational: nothing in this package ever issues a
// compositor or engine request, it only mirrors state the reconciler
// already decided.
package statusbus

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"wlime/internal/logging"
)

const (
	busName      = "org.wlime.StatusIndicator1"
	objectPath   = "/org/wlime/StatusIndicator1"
	ifaceName    = "org.wlime.StatusIndicator1"
	signalMember = "StatusChanged"
)

// Status is the snapshot of state exposed to bus clients.
type Status struct {
	Mode              string
	Preedit           string
	RecordingRegister string
}

// Service owns the session-bus connection and the exported object. A nil
// *Service is valid and every method on it is a no-op, so callers can wire
// it unconditionally and let config.StatusBus.Enabled gate construction.
type Service struct {
	conn *dbus.Conn
	log  *logging.Logger

	mu     sync.Mutex
	status Status
}

// object is the D-Bus-exported type; kept separate from Service so the
// exported method set stays exactly the properties clients see.
type object struct {
	svc *Service
}

// Start connects to the session bus, requests busName, and exports the
// status object. Errors are non-fatal to the caller: on failure the status
// bus feature degrades and the coordination core is unaffected.
func Start(log *logging.Logger) (*Service, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}

	svc := &Service{conn: conn, log: log}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, dbus.ErrClosed
	}

	if err := conn.Export(&object{svc: svc}, objectPath, ifaceName); err != nil {
		conn.Close()
		return nil, err
	}

	return svc, nil
}

// Close releases the bus name and connection. Safe on a nil Service.
func (s *Service) Close() {
	if s == nil || s.conn == nil {
		return
	}
	s.conn.ReleaseName(busName)
	s.conn.Close()
}

// GetMode, GetPreedit, and GetRecordingRegister are exported over D-Bus as
// the read-only properties bar integrations poll.
func (o *object) GetMode() (string, *dbus.Error) {
	return o.svc.snapshot().Mode, nil
}

func (o *object) GetPreedit() (string, *dbus.Error) {
	return o.svc.snapshot().Preedit, nil
}

func (o *object) GetRecordingRegister() (string, *dbus.Error) {
	return o.svc.snapshot().RecordingRegister, nil
}

func (s *Service) snapshot() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Update replaces the exposed status and emits StatusChanged. Called from
// the reconciler's own goroutine after every state change it makes; never
// triggers a compositor or engine call itself.
func (s *Service) Update(status Status) {
	if s == nil || s.conn == nil {
		return
	}
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	err := s.conn.Emit(objectPath, ifaceName+"."+signalMember, status.Mode, status.Preedit, status.RecordingRegister)
	if err != nil && s.log != nil {
		s.log.Warn("statusbus: emit StatusChanged failed", "error", err)
	}
}
