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
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/actuator"
	"github.com/TheCacophonyProject/smart-battery-manager/statestore"
	"github.com/TheCacophonyProject/smart-battery-manager/telemetry"
	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "<not set>"

const directiveExitWait = 2 * time.Second

type LogArgs struct {
	LogLevel     string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
	NoTimestamps bool   `arg:"--no-timestamps" help:"Don't prefix log lines with the time"`
}

type Args struct {
	ConfigFile   string `arg:"-c, --config" help:"Path to the TOML config file"`
	MQTTUsername string `arg:"--mqtt-username,env:MQTT_USERNAME" help:"MQTT username, overrides the config file"`
	MQTTPassword string `arg:"--mqtt-password,env:MQTT_PASSWORD" help:"MQTT password, overrides the config file"`
	LogArgs
}

func (Args) Version() string {
	return version
}

func (Args) Description() string {
	return "Keeps the battery between a charge ceiling and floor, and stops charging when it gets too hot."
}

var defaultArgs = Args{
	ConfigFile: defaultConfigFile(),
}

// applyOverrides sets the config values that can come from flags or the
// environment instead of the config file.
func (a Args) applyOverrides(conf *Config) {
	if a.MQTTUsername != "" {
		conf.MQTT.Username = a.MQTTUsername
	}
	if a.MQTTPassword != "" {
		conf.MQTT.Password = a.MQTTPassword
	}
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

// loadEnv loads the optional .env file next to the default config so MQTT
// credentials don't have to be in the config file.
func loadEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	envFile := filepath.Join(home, ".config", "smart-battery-manager", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to load %s: %v", envFile, err)
	}
}

func Run(inputArgs []string, ver string) error {
	version = ver
	loadEnv()
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	setupLogging(args)

	log.Debug("Running version: ", version)

	conf, err := ParseConfig(args.ConfigFile)
	if err != nil {
		return err
	}
	args.applyOverrides(conf)

	cliPath, err := actuator.Find(conf.BatteryCLI)
	if err != nil {
		log.Error("❌ The 'battery' CLI was not found.")
		log.Error("   Install it with: brew install battery")
		return err
	}

	log.Info("🔋 Smart Battery Manager started.")
	log.Infof("   Ceiling %d%% | Floor %d%% | Max temp %.1f°C", conf.TargetLimit, conf.SailingFloor, conf.MaxTempTrigger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	act := actuator.New(cliPath)
	act.OnExit = recordActuatorExit
	log.Debug("Using battery CLI at ", act.Path())
	store := statestore.New(conf.StateFile)
	log.Debug("State file: ", store.Path())
	ctrl := newController(
		telemetry.NewReader(nil, conf.TelemetryTimeout()),
		store,
		act,
		conf,
	)

	status := &statusHolder{}
	ctrl.addObserver(status)
	ctrl.addObserver(metricsObserver{})

	if conf.History.Enable {
		ctrl.addObserver(newHistoryWriter(conf.History))
	}

	if conf.MQTT.Enable {
		p := newMQTTPublisher(conf.MQTT)
		p.connect()
		defer p.close()
		ctrl.addObserver(p)
	}

	if conf.DBus.Enable {
		s, err := startService(status)
		if err != nil {
			log.Warnf("D-Bus service not started: %v", err)
		} else {
			defer s.close()
			ctrl.addObserver(s)
		}
	}

	var listener net.Listener
	if conf.HTTP.Enable {
		if listener, err = listenHTTP(conf.HTTP.Address); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.run(gctx)
	})
	if listener != nil {
		g.Go(func() error {
			return serveHTTP(gctx, listener, newRouter(status))
		})
	}
	if _, err := os.Stat(args.ConfigFile); err == nil {
		g.Go(func() error {
			err := watchConfig(gctx, conf, args.ConfigFile, args.applyOverrides)
			if err != nil && !errors.Is(err, errConfigChanged) {
				log.Warnf("Not watching config for changes: %v", err)
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	waitForDirective(act)
	if errors.Is(err, errConfigChanged) {
		return nil
	}
	if ctx.Err() != nil {
		log.Info("🛑 Shutting down Smart Battery Manager.")
	}
	return err
}

// waitForDirective gives a directive that is still running a moment to
// finish. A long discharge is left running in its own process group.
func waitForDirective(act *actuator.Actuator) {
	d, running := act.Running()
	if !running {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), directiveExitWait)
	defer cancel()
	if err := act.Wait(ctx); err != nil {
		log.Debugf("Leaving 'battery %s' running", d)
	}
}
