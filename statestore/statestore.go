// Package statestore keeps the charge control state in a small JSON file so
// the control loop keeps its place in the hysteresis cycle across restarts.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
)

const DefaultFileName = "battery_state.json"

var (
	ErrNoRecord      = errors.New("no state record")
	ErrCorruptRecord = errors.New("corrupt state record")
)

// Record is the result of reading the state file. When UseDefault is set the
// State holds the defaults and Err says why the file wasn't used.
type Record struct {
	State      charge.State
	UseDefault bool
	Err        error
}

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is ~/scripts/battery_state.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "scripts", DefaultFileName), nil
}

func (s *Store) Path() string {
	return s.path
}

// Read reads the state file. It never fails, a missing or unusable record
// collapses to the default state.
func (s *Store) Read() Record {
	state, err := s.read()
	if err != nil {
		return Record{State: charge.DefaultState(), UseDefault: true, Err: err}
	}
	return Record{State: state}
}

// Load returns the stored state, or the defaults.
func (s *Store) Load() charge.State {
	return s.Read().State
}

func (s *Store) read() (charge.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return charge.State{}, ErrNoRecord
		}
		return charge.State{}, err
	}

	// Fields missing from the record keep their default.
	state := charge.DefaultState()
	if err := json.Unmarshal(data, &state); err != nil {
		return charge.State{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !state.Mode.Valid() {
		return charge.State{}, fmt.Errorf("%w: unknown mode %q", ErrCorruptRecord, state.Mode)
	}
	return state, nil
}

// Save replaces the whole record.
func (s *Store) Save(state charge.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
