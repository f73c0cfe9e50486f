package manager

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
)

// Report is what a single control cycle saw and did.
type Report struct {
	Time          time.Time       `json:"time"`
	Percent       int             `json:"percent"`
	Temperature   float64         `json:"temperature"`
	Degraded      bool            `json:"degraded"`
	Mode          charge.Mode     `json:"mode"`
	HeatPaused    bool            `json:"heat_paused"`
	Directive     string          `json:"directive"`
	Transitions   []string        `json:"transitions,omitempty"`
	StateChanged  bool            `json:"state_changed"`
	ActuatorError string          `json:"actuator_error,omitempty"`
	Previous      charge.State    `json:"-"`
	Decision      charge.Decision `json:"-"`
}

func (r Report) State() charge.State {
	return charge.State{Mode: r.Mode, HeatPaused: r.HeatPaused}
}

func (r Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Observer is told about every finished cycle.
type Observer interface {
	Observe(r Report)
}

type ObserverFunc func(r Report)

func (f ObserverFunc) Observe(r Report) {
	f(r)
}

// statusHolder keeps the latest report for the HTTP and D-Bus interfaces.
type statusHolder struct {
	mu     sync.RWMutex
	last   Report
	hasRun bool
}

func (s *statusHolder) Observe(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.hasRun = true
}

// Last returns the latest report, or false before the first cycle finished.
func (s *statusHolder) Last() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasRun
}
