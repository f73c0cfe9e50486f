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

// Package charge holds the charge control state machine. It turns a battery
// sample and the persisted control state into at most one directive for the
// charge actuator.
package charge

import (
	"errors"
	"fmt"
)

// EmergencyFloor is the percent the battery is discharged towards while it is
// too hot. It does not depend on the configured sailing floor.
const EmergencyFloor = 20

// Mode is the phase of the charge/sail hysteresis.
type Mode string

const (
	ModeCharging   Mode = "charging"
	ModeSailing    Mode = "sailing"
	ModeReEvaluate Mode = "re-evaluate"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeCharging, ModeSailing, ModeReEvaluate:
		return true
	}
	return false
}

// State is the control state carried between cycles and across restarts.
type State struct {
	Mode       Mode `json:"mode"`
	HeatPaused bool `json:"heat_paused"`
}

// DefaultState is used when no usable record exists.
func DefaultState() State {
	return State{Mode: ModeCharging, HeatPaused: false}
}

func (s State) String() string {
	return fmt.Sprintf("mode=%s heat_paused=%t", s.Mode, s.HeatPaused)
}

// DirectiveKind identifies what the actuator is asked to do.
type DirectiveKind int

const (
	DirectiveNone DirectiveKind = iota
	DirectiveSetChargeLimit
	DirectiveForceDischarge
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveSetChargeLimit:
		return "limit"
	case DirectiveForceDischarge:
		return "discharge"
	default:
		return "none"
	}
}

// Directive is a single command for the charge actuator.
type Directive struct {
	Kind    DirectiveKind
	Percent int
}

// None is the empty directive.
var None = Directive{}

func SetChargeLimit(percent int) Directive {
	return Directive{Kind: DirectiveSetChargeLimit, Percent: percent}
}

func ForceDischarge(toPercent int) Directive {
	return Directive{Kind: DirectiveForceDischarge, Percent: toPercent}
}

func (d Directive) IsNone() bool {
	return d.Kind == DirectiveNone
}

func (d Directive) String() string {
	if d.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%s %d", d.Kind, d.Percent)
}

// Sample is one telemetry reading.
type Sample struct {
	Percent     int
	Temperature float64
	// Degraded is set when at least part of the sample is a fallback value.
	Degraded bool
}

// FallbackSample is what is used when telemetry can't be read. It looks full
// and cold so no discharge is forced on bad data.
func FallbackSample() Sample {
	return Sample{Percent: 100, Temperature: 0.0, Degraded: true}
}

var ErrInvalidThresholds = errors.New("invalid charge thresholds")

// Thresholds are the fixed limits the state machine works with.
type Thresholds struct {
	MaxTempTrigger float64
	SafeTempResume float64
	TargetLimit    int
	SailingFloor   int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxTempTrigger: 33.0,
		SafeTempResume: 29.0,
		TargetLimit:    80,
		SailingFloor:   75,
	}
}

func (t Thresholds) Validate() error {
	if t.SafeTempResume >= t.MaxTempTrigger {
		return fmt.Errorf("%w: safe-temp-resume (%.1f) must be below max-temp-trigger (%.1f)",
			ErrInvalidThresholds, t.SafeTempResume, t.MaxTempTrigger)
	}
	if t.TargetLimit < 0 || t.TargetLimit > 100 {
		return fmt.Errorf("%w: target-limit %d is not a percentage", ErrInvalidThresholds, t.TargetLimit)
	}
	if t.SailingFloor < 0 || t.SailingFloor > 100 {
		return fmt.Errorf("%w: sailing-floor %d is not a percentage", ErrInvalidThresholds, t.SailingFloor)
	}
	if t.SailingFloor >= t.TargetLimit {
		return fmt.Errorf("%w: sailing-floor (%d) must be below target-limit (%d)",
			ErrInvalidThresholds, t.SailingFloor, t.TargetLimit)
	}
	return nil
}
