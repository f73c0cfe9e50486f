// Package telemetry reads the battery charge and temperature from the macOS
// power management tools.
package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 20 * time.Second

var (
	temperatureRegex = regexp.MustCompile(`"Temperature"\s*=\s*(\d+)`)
	percentRegex     = regexp.MustCompile(`(\d+)%`)
)

// CommandRunner runs a command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type Reader struct {
	run     CommandRunner
	timeout time.Duration
}

// NewReader returns a reader that runs the real tools. A nil runner uses
// os/exec and a zero timeout uses DefaultTimeout.
func NewReader(run CommandRunner, timeout time.Duration) *Reader {
	if run == nil {
		run = execRunner
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reader{run: run, timeout: timeout}
}

// Sample never fails. When a tool can't be run the fallback sample is
// returned, and a value missing from the output falls back on its own.
func (r *Reader) Sample(ctx context.Context) charge.Sample {
	sample, err := r.read(ctx)
	if err != nil {
		log.Debugf("Battery status unavailable, using fallback: %v", err)
		return charge.FallbackSample()
	}
	return sample
}

func (r *Reader) read(ctx context.Context) (charge.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ioregOut, err := r.run(ctx, "ioreg", "-r", "-n", "AppleSmartBattery")
	if err != nil {
		return charge.Sample{}, fmt.Errorf("ioreg: %w", err)
	}
	pmsetOut, err := r.run(ctx, "pmset", "-g", "batt")
	if err != nil {
		return charge.Sample{}, fmt.Errorf("pmset: %w", err)
	}

	fallback := charge.FallbackSample()
	sample := charge.Sample{}

	if temp, ok := ParseTemperature(ioregOut); ok {
		sample.Temperature = temp
	} else {
		log.Debug("No temperature found in ioreg output")
		sample.Temperature = fallback.Temperature
		sample.Degraded = true
	}

	if percent, ok := ParseChargePercent(pmsetOut); ok {
		sample.Percent = percent
	} else {
		log.Debug("No charge percentage found in pmset output")
		sample.Percent = fallback.Percent
		sample.Degraded = true
	}
	return sample, nil
}

// ParseTemperature finds the battery temperature in `ioreg -r -n AppleSmartBattery`
// output. The register holds hundredths of a degree Celsius.
func ParseTemperature(out []byte) (float64, bool) {
	m := temperatureRegex.FindSubmatch(out)
	if m == nil {
		return 0, false
	}
	raw, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return float64(raw) / 100.0, true
}

// ParseChargePercent finds the charge percentage in `pmset -g batt` output.
func ParseChargePercent(out []byte) (int, bool) {
	m := percentRegex.FindSubmatch(out)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(string(m[1]))
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}
