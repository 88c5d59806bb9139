package session

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	login1Service   = "org.freedesktop.login1"
	login1Path      = "/org/freedesktop/login1"
	login1Manager   = "org.freedesktop.login1.Manager"
	login1Session   = "org.freedesktop.login1.Session"
	primarySeatName = "seat0"
)

// LogindProvider asks systemd-logind over the system D-Bus for the
// session marked active on the physical seat.
type LogindProvider struct {
	seat string
}

func NewLogindProvider() *LogindProvider {
	return &LogindProvider{seat: primarySeatName}
}

func (*LogindProvider) Name() string { return "logind" }

func (p *LogindProvider) ActiveUser() (string, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return "", fmt.Errorf("connect system bus: %w", err)
	}

	var sessions []struct {
		ID   string
		UID  uint32
		User string
		Seat string
		Path dbus.ObjectPath
	}
	mgr := conn.Object(login1Service, login1Path)
	if err := mgr.Call(login1Manager+".ListSessions", 0).Store(&sessions); err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}

	for _, s := range sessions {
		if s.Seat != p.seat {
			continue
		}
		obj := conn.Object(login1Service, s.Path)
		active, err := obj.GetProperty(login1Session + ".Active")
		if err != nil {
			continue
		}
		if isActive, ok := active.Value().(bool); ok && isActive {
			return s.User, nil
		}
	}
	return "", nil
}
