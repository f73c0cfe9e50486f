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

// Package actuator sends charge directives to the `battery` CLI.
package actuator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	log "github.com/sirupsen/logrus"
)

// Output pipes are given this long to close after the CLI exits, in case it
// left a background helper holding them.
const pipeWaitDelay = 5 * time.Second

type process struct {
	cmd        *exec.Cmd
	directive  charge.Directive
	output     bytes.Buffer
	superseded atomic.Bool
	done       chan struct{}
}

// Actuator runs directives without waiting for them. A discharge can run for
// a long time, so a newer directive stops the previous one if it is still
// running.
type Actuator struct {
	path string

	// OnExit is called once for every directive that ran to completion,
	// with a nil error on success. Superseded directives are not reported.
	OnExit func(d charge.Directive, err error)

	mu      sync.Mutex
	current *process
}

func New(path string) *Actuator {
	return &Actuator{path: path}
}

func (a *Actuator) Path() string {
	return a.path
}

// Apply starts the directive. An error is only returned when the CLI could
// not be started; how it exits is logged later.
func (a *Actuator) Apply(d charge.Directive) error {
	if d.IsNone() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.supersede()

	p := &process{
		directive: d,
		done:      make(chan struct{}),
	}
	p.cmd = exec.Command(a.path, d.Kind.String(), strconv.Itoa(d.Percent))
	p.cmd.Stdout = &p.output
	p.cmd.Stderr = &p.output
	p.cmd.WaitDelay = pipeWaitDelay
	// Own process group so the CLI's children are stopped with it.
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	log.Debugf("Running '%s %s %d'", a.path, d.Kind, d.Percent)
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to run 'battery %s': %w", d, err)
	}
	a.current = p
	go a.reap(p)
	return nil
}

func (a *Actuator) reap(p *process) {
	err := p.cmd.Wait()
	if !p.superseded.Load() {
		if err != nil {
			log.Errorf("'battery %s' failed: %v, %s", p.directive, err, strings.TrimSpace(p.output.String()))
		} else {
			log.Debugf("'battery %s' finished", p.directive)
		}
		if a.OnExit != nil {
			a.OnExit(p.directive, err)
		}
	}
	close(p.done)
}

// supersede stops the running directive, if any. Must hold a.mu.
func (a *Actuator) supersede() {
	p := a.current
	if p == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	log.Infof("Stopping previous 'battery %s'", p.directive)
	p.superseded.Store(true)
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		log.Debugf("Failed to stop process group: %v", err)
		p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(pipeWaitDelay):
		p.cmd.Process.Kill()
		<-p.done
	}
}

// Wait blocks until the last directive has finished or ctx is done.
func (a *Actuator) Wait(ctx context.Context) error {
	a.mu.Lock()
	p := a.current
	a.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the directive that is still running, if any.
func (a *Actuator) Running() (charge.Directive, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return charge.None, false
	}
	select {
	case <-a.current.done:
		return charge.None, false
	default:
		return a.current.directive, true
	}
}
