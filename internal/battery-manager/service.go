/*
smart-battery-manager - Keeps a laptop battery between a charge ceiling and floor
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package manager

import (
	"errors"
	"runtime"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	log "github.com/sirupsen/logrus"
)

const (
	dbusName = "org.cacophony.BatteryManager"
	dbusPath = "/org/cacophony/BatteryManager"
)

var errNoReport = errors.New("no cycle has run yet")

type service struct {
	conn   *dbus.Conn
	status *statusHolder
}

func startService(status *statusHolder) (*service, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errors.New("name already taken")
	}

	s := &service{
		conn:   conn,
		status: status,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return s, nil
}

func (s *service) close() {
	s.conn.Close()
}

// GetStatus returns the last cycle report as JSON.
func (s *service) GetStatus() (string, *dbus.Error) {
	report, ok := s.status.Last()
	if !ok {
		return "", dbusErr(errNoReport)
	}
	data, err := report.JSON()
	if err != nil {
		return "", dbusErr(err)
	}
	return string(data), nil
}

func (s *service) GetState() (string, bool, *dbus.Error) {
	report, ok := s.status.Last()
	if !ok {
		return "", false, dbusErr(errNoReport)
	}
	return string(report.Mode), report.HeatPaused, nil
}

// Observe emits StateChanged(mode, heat_paused, directive) when a cycle moved
// the state.
func (s *service) Observe(r Report) {
	if !r.StateChanged {
		return
	}
	err := s.conn.Emit(dbusPath, dbusName+".StateChanged", string(r.Mode), r.HeatPaused, r.Directive)
	if err != nil {
		log.Warnf("Failed to emit StateChanged: %v", err)
	}
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: "StateChanged",
				Args: []introspect.Arg{
					{Name: "mode", Type: "s"},
					{Name: "heat_paused", Type: "b"},
					{Name: "directive", Type: "s"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
