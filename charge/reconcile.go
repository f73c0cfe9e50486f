package charge

// TransitionKind names a state machine transition.
type TransitionKind string

const (
	TransitionThermalCut    TransitionKind = "thermal-cut"
	TransitionThermalResume TransitionKind = "thermal-resume"
	TransitionReassert      TransitionKind = "reassert"
	TransitionSail          TransitionKind = "sail"
	TransitionRecharge      TransitionKind = "recharge"
)

// Transition is one rule that fired during a cycle, in the order it fired.
type Transition struct {
	Kind      TransitionKind
	Directive Directive
	State     State
}

// Decision is the outcome of one cycle.
type Decision struct {
	Directive   Directive
	State       State
	Transitions []Transition
}

// Changed reports whether the decision moved away from the given state.
func (d Decision) Changed(prev State) bool {
	return d.State != prev
}

func (d *Decision) apply(kind TransitionKind, directive Directive) {
	if !directive.IsNone() {
		// A later rule replaces an earlier directive in the same cycle, e.g.
		// a sail after a reassert sends only the discharge.
		d.Directive = directive
	}
	d.Transitions = append(d.Transitions, Transition{Kind: kind, Directive: directive, State: d.State})
}

// Reconcile works out the directive and next state for a sample.
//
// The thermal guard is evaluated first and freezes the hysteresis while the
// battery is paused for heat. Otherwise the hysteresis advances, with
// re-evaluate resolving into charging and charging being checked again within
// the same cycle. When both rules of that fallthrough fire the discharge
// replaces the charge limit, so a decision never carries more than one
// directive.
func Reconcile(sample Sample, state State, t Thresholds) Decision {
	d := Decision{Directive: None, State: state}

	switch {
	case sample.Temperature >= t.MaxTempTrigger && !d.State.HeatPaused:
		d.State.HeatPaused = true
		d.apply(TransitionThermalCut, ForceDischarge(EmergencyFloor))
	case sample.Temperature <= t.SafeTempResume && d.State.HeatPaused:
		d.State.HeatPaused = false
		d.State.Mode = ModeReEvaluate
		d.apply(TransitionThermalResume, None)
	}

	if d.State.HeatPaused {
		return d
	}

	// Only a reassert continues, so this runs at most twice.
	for i := 0; i < 2; i++ {
		mode, directive, kind, ok := advance(d.State.Mode, sample.Percent, t)
		if !ok {
			break
		}
		d.State.Mode = mode
		d.apply(kind, directive)
		if kind != TransitionReassert {
			break
		}
	}
	return d
}

func advance(mode Mode, percent int, t Thresholds) (Mode, Directive, TransitionKind, bool) {
	switch mode {
	case ModeReEvaluate:
		return ModeCharging, SetChargeLimit(t.TargetLimit), TransitionReassert, true
	case ModeCharging:
		if percent >= t.TargetLimit {
			return ModeSailing, ForceDischarge(t.SailingFloor), TransitionSail, true
		}
	case ModeSailing:
		// Between floor and ceiling the last discharge is left in effect.
		if percent <= t.SailingFloor {
			return ModeCharging, SetChargeLimit(t.TargetLimit), TransitionRecharge, true
		}
	}
	return mode, None, "", false
}
