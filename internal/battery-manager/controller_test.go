package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/TheCacophonyProject/smart-battery-manager/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples []charge.Sample
}

func (f *fakeSampler) Sample(ctx context.Context) charge.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return charge.FallbackSample()
	}
	s := f.samples[0]
	f.samples = f.samples[1:]
	return s
}

func (f *fakeSampler) push(percent int, temp float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, charge.Sample{Percent: percent, Temperature: temp})
}

type fakeRunner struct {
	mu      sync.Mutex
	applied []charge.Directive
	err     error
}

func (f *fakeRunner) Apply(d charge.Directive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.IsNone() {
		return nil
	}
	f.applied = append(f.applied, d)
	return f.err
}

func (f *fakeRunner) take() []charge.Directive {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.applied
	f.applied = nil
	return out
}

type failingStore struct {
	state charge.State
	saves int
}

func (s *failingStore) Read() statestore.Record {
	return statestore.Record{State: s.state}
}

func (s *failingStore) Save(charge.State) error {
	s.saves++
	return errors.New("read-only file system")
}

func testConfig(t *testing.T) *Config {
	conf := DefaultConfig()
	conf.StateFile = filepath.Join(t.TempDir(), "scripts", "battery_state.json")
	conf.CheckIntervalSeconds = 1
	return &conf
}

func newTestController(conf *Config) (*controller, *fakeSampler, *fakeRunner) {
	s := &fakeSampler{}
	r := &fakeRunner{}
	c := newController(s, statestore.New(conf.StateFile), r, conf)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }
	return c, s, r
}

func readStateFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestScenarioWithRestart(t *testing.T) {
	conf := testConfig(t)

	type step struct {
		percent   int
		temp      float64
		directive []charge.Directive
		state     charge.State
	}
	steps := []step{
		{70, 25, nil, charge.State{Mode: charge.ModeCharging}},
		{80, 25, []charge.Directive{charge.ForceDischarge(75)}, charge.State{Mode: charge.ModeSailing}},
		{77, 25, nil, charge.State{Mode: charge.ModeSailing}},
		{75, 25, []charge.Directive{charge.SetChargeLimit(80)}, charge.State{Mode: charge.ModeCharging}},
		{76, 34, []charge.Directive{charge.ForceDischarge(20)}, charge.State{Mode: charge.ModeCharging, HeatPaused: true}},
		{50, 28, []charge.Directive{charge.SetChargeLimit(80)}, charge.State{Mode: charge.ModeCharging}},
	}

	c, sampler, runner := newTestController(conf)
	for i, st := range steps {
		// Restart half way, the state must come back from the file.
		if i == 3 {
			c, sampler, runner = newTestController(conf)
		}
		sampler.push(st.percent, st.temp)
		report, err := c.cycle(context.Background())
		require.NoError(t, err)

		assert.Equal(t, st.directive, runner.take(), "step %d", i)
		assert.Equal(t, st.state, report.State(), "step %d", i)
		assert.Equal(t, st.state, statestore.New(conf.StateFile).Load(), "step %d", i)
	}
}

func TestNoRecordIsNotWrittenUntilStateChanges(t *testing.T) {
	conf := testConfig(t)
	c, sampler, _ := newTestController(conf)

	sampler.push(50, 25)
	_, err := c.cycle(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, conf.StateFile)

	sampler.push(90, 25)
	_, err = c.cycle(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"sailing","heat_paused":false}`, readStateFile(t, conf.StateFile))
}

func TestSaveFailureDoesNotStopCycle(t *testing.T) {
	conf := testConfig(t)
	store := &failingStore{state: charge.DefaultState()}
	sampler := &fakeSampler{}
	runner := &fakeRunner{}
	c := newController(sampler, store, runner, conf)

	sampler.push(85, 25)
	report, err := c.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, charge.ModeSailing, report.Mode)
	assert.Equal(t, []charge.Directive{charge.ForceDischarge(75)}, runner.take())

	// The sail is lost with the failed save, so it happens again.
	sampler.push(85, 25)
	_, err = c.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []charge.Directive{charge.ForceDischarge(75)}, runner.take())
}

func TestActuatorFailureKeepsTransition(t *testing.T) {
	conf := testConfig(t)
	c, sampler, runner := newTestController(conf)
	runner.err = errors.New("no such file or directory")

	sampler.push(80, 25)
	report, err := c.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "no such file or directory", report.ActuatorError)
	assert.Equal(t, charge.State{Mode: charge.ModeSailing}, statestore.New(conf.StateFile).Load())
}

func TestCorruptRecordUsesDefaults(t *testing.T) {
	conf := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(conf.StateFile), 0755))
	require.NoError(t, os.WriteFile(conf.StateFile, []byte("{not json"), 0644))
	c, sampler, runner := newTestController(conf)

	sampler.push(80, 25)
	report, err := c.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, charge.ModeCharging, report.Previous.Mode)
	assert.Equal(t, []charge.Directive{charge.ForceDischarge(75)}, runner.take())
	assert.JSONEq(t, `{"mode":"sailing","heat_paused":false}`, readStateFile(t, conf.StateFile))
}

func TestObserversGetReport(t *testing.T) {
	conf := testConfig(t)
	c, sampler, _ := newTestController(conf)
	status := &statusHolder{}
	c.addObserver(status)

	var reports []Report
	c.addObserver(ObserverFunc(func(r Report) {
		reports = append(reports, r)
	}))

	_, ok := status.Last()
	assert.False(t, ok)

	sampler.push(76, 34)
	_, err := c.cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, 76, r.Percent)
	assert.Equal(t, 34.0, r.Temperature)
	assert.True(t, r.HeatPaused)
	assert.True(t, r.StateChanged)
	assert.Equal(t, "discharge 20", r.Directive)
	assert.Equal(t, []string{"thermal-cut"}, r.Transitions)

	last, ok := status.Last()
	assert.True(t, ok)
	assert.Equal(t, r, last)
}

func TestCancelledCycleDoesNothing(t *testing.T) {
	conf := testConfig(t)
	c, sampler, runner := newTestController(conf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sampler.push(90, 40)
	_, err := c.cycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.take())
	assert.NoFileExists(t, conf.StateFile)
}

func TestRunStopsOnCancel(t *testing.T) {
	conf := testConfig(t)
	c, sampler, runner := newTestController(conf)
	sampler.push(90, 25)

	cycles := make(chan Report, 10)
	c.addObserver(ObserverFunc(func(r Report) { cycles <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx) }()

	select {
	case r := <-cycles:
		assert.Equal(t, charge.ModeSailing, r.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle ran")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, []charge.Directive{charge.ForceDischarge(75)}, runner.take())
}
