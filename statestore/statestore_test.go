package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	return New(filepath.Join(t.TempDir(), "scripts", DefaultFileName))
}

func writeRecord(t *testing.T, s *Store, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))
}

func TestMissingRecordUsesDefaults(t *testing.T) {
	s := newTestStore(t)
	r := s.Read()
	assert.True(t, r.UseDefault)
	assert.ErrorIs(t, r.Err, ErrNoRecord)
	assert.Equal(t, charge.DefaultState(), r.State)
	assert.Equal(t, charge.DefaultState(), s.Load())
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t)
	states := []charge.State{
		{Mode: charge.ModeSailing},
		{Mode: charge.ModeCharging, HeatPaused: true},
		{Mode: charge.ModeReEvaluate},
	}
	for _, state := range states {
		require.NoError(t, s.Save(state))
		r := s.Read()
		assert.False(t, r.UseDefault)
		assert.NoError(t, r.Err)
		assert.Equal(t, state, r.State)
	}
}

func TestRecordFormat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(charge.State{Mode: charge.ModeSailing, HeatPaused: true}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode": "sailing", "heat_paused": true}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadsExistingRecord(t *testing.T) {
	s := newTestStore(t)
	writeRecord(t, s, `{"mode": "re-evaluate", "heat_paused": false}`)
	assert.Equal(t, charge.State{Mode: charge.ModeReEvaluate}, s.Load())
}

func TestCorruptRecordUsesDefaults(t *testing.T) {
	corrupt := []string{
		``,
		`{"mode": "charging", "heat_paused": `,
		`not json`,
		`{"mode": "flying", "heat_paused": false}`,
		`{"mode": 3}`,
		`[]`,
	}
	for _, content := range corrupt {
		s := newTestStore(t)
		writeRecord(t, s, content)
		r := s.Read()
		assert.True(t, r.UseDefault, "content %q", content)
		assert.ErrorIs(t, r.Err, ErrCorruptRecord, "content %q", content)
		assert.Equal(t, charge.DefaultState(), r.State)
	}
}

func TestPartialRecordKeepsDefaults(t *testing.T) {
	s := newTestStore(t)
	writeRecord(t, s, `{"heat_paused": true}`)
	assert.Equal(t, charge.State{Mode: charge.ModeCharging, HeatPaused: true}, s.Load())

	writeRecord(t, s, `{"mode": "sailing"}`)
	assert.Equal(t, charge.State{Mode: charge.ModeSailing}, s.Load())
}

func TestUnreadableRecordUsesDefaults(t *testing.T) {
	s := newTestStore(t)
	// A directory where the file should be can't be read as a record.
	require.NoError(t, os.MkdirAll(s.Path(), 0755))
	r := s.Read()
	assert.True(t, r.UseDefault)
	assert.Error(t, r.Err)
	assert.Equal(t, charge.DefaultState(), r.State)

	assert.Error(t, s.Save(charge.DefaultState()))
}

func TestSaveCreatesDirectory(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "a", "b", "state.json"))
	require.NoError(t, s.Save(charge.State{Mode: charge.ModeSailing}))
	assert.Equal(t, charge.ModeSailing, s.Load().Mode)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", "/Users/tester")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/Users/tester/scripts/battery_state.json", p)
}
