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
	"context"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/TheCacophonyProject/smart-battery-manager/statestore"
	log "github.com/sirupsen/logrus"
)

type sampler interface {
	Sample(ctx context.Context) charge.Sample
}

type stateStore interface {
	Read() statestore.Record
	Save(s charge.State) error
}

type directiveRunner interface {
	Apply(d charge.Directive) error
}

// controller owns the charge state. Everything else only sees Reports.
type controller struct {
	sampler    sampler
	store      stateStore
	actuator   directiveRunner
	thresholds charge.Thresholds
	interval   time.Duration
	observers  []Observer
	now        func() time.Time
}

func newController(s sampler, store stateStore, a directiveRunner, conf *Config) *controller {
	return &controller{
		sampler:    s,
		store:      store,
		actuator:   a,
		thresholds: conf.Thresholds(),
		interval:   conf.CheckInterval(),
		now:        time.Now,
	}
}

func (c *controller) addObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// run does a cycle straight away and then one every interval until ctx is done.
func (c *controller) run(ctx context.Context) error {
	for {
		if _, err := c.cycle(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.interval):
		}
	}
}

// cycle runs sample, load, reconcile, act, save and observe once. It only
// fails when ctx is done, in which case nothing is applied.
func (c *controller) cycle(ctx context.Context) (Report, error) {
	sample := c.sampler.Sample(ctx)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if sample.Degraded {
		log.Debugf("Using fallback telemetry: %d%%, %.1f°C", sample.Percent, sample.Temperature)
	} else {
		log.Debugf("Battery: %d%%, %.1f°C", sample.Percent, sample.Temperature)
	}

	record := c.store.Read()
	if record.UseDefault {
		log.Debugf("Using default state: %v", record.Err)
	}
	prev := record.State

	decision := charge.Reconcile(sample, prev, c.thresholds)
	for _, t := range decision.Transitions {
		narrate(t, sample, c.thresholds)
	}

	report := Report{
		Time:         c.now(),
		Percent:      sample.Percent,
		Temperature:  sample.Temperature,
		Degraded:     sample.Degraded,
		Mode:         decision.State.Mode,
		HeatPaused:   decision.State.HeatPaused,
		Directive:    decision.Directive.String(),
		StateChanged: decision.Changed(prev),
		Previous:     prev,
		Decision:     decision,
	}
	for _, t := range decision.Transitions {
		report.Transitions = append(report.Transitions, string(t.Kind))
	}

	// The transition stands even if the directive can't be sent.
	if err := c.actuator.Apply(decision.Directive); err != nil {
		log.Errorf("Failed to apply '%s': %v", decision.Directive, err)
		report.ActuatorError = err.Error()
	}

	if report.StateChanged {
		if err := c.store.Save(decision.State); err != nil {
			log.Warnf("Failed to save state: %v", err)
		}
	}

	for _, o := range c.observers {
		o.Observe(report)
	}
	return report, nil
}

func narrate(t charge.Transition, sample charge.Sample, th charge.Thresholds) {
	switch t.Kind {
	case charge.TransitionThermalCut:
		log.Infof("🔥 Battery at %.1f°C (max %.1f°C), discharging to %d%%", sample.Temperature, th.MaxTempTrigger, t.Directive.Percent)
	case charge.TransitionThermalResume:
		log.Infof("❄️ Battery cooled to %.1f°C, resuming", sample.Temperature)
	case charge.TransitionReassert:
		log.Infof("Re-asserting charge limit of %d%%", t.Directive.Percent)
	case charge.TransitionSail:
		log.Infof("⚓️ Reached %d%%, sailing down to %d%%", sample.Percent, t.Directive.Percent)
	case charge.TransitionRecharge:
		log.Infof("⚡️ Dropped to %d%%, charging up to %d%%", sample.Percent, t.Directive.Percent)
	default:
		log.Infof("Transition %s: %s", t.Kind, t.State)
	}
}
