// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// A scenario describes a soak run.
type scenario struct {
	Service         string        `yaml:"service"`
	Clients         int           `yaml:"clients"`
	Requests        int           `yaml:"requests"`
	MatchDelay      time.Duration `yaml:"match-delay"`
	Depth           int           `yaml:"depth"`
	PresenceTimeout time.Duration `yaml:"presence-timeout"`
	QueueLimit      int           `yaml:"queue-limit"`
}

func defaultScenario() *scenario {
	return &scenario{
		Service:    "echo",
		Clients:    4,
		Requests:   100,
		MatchDelay: 10 * time.Millisecond,
	}
}

// loadScenario returns the default scenario, updated from the YAML file at
// path if path is non-empty.
func loadScenario(path string) (*scenario, error) {
	sc := defaultScenario()
	if path == "" {
		return sc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return sc, nil
}

// override replaces the settings of sc with those of the flags named in set,
// which are the flags given on the command line.
func (sc *scenario) override(set map[string]bool) {
	if set["service"] {
		sc.Service = soakFlags.Service
	}
	if set["clients"] {
		sc.Clients = soakFlags.Clients
	}
	if set["requests"] {
		sc.Requests = soakFlags.Requests
	}
	if set["match-delay"] {
		sc.MatchDelay = soakFlags.MatchDelay
	}
	if set["depth"] {
		sc.Depth = soakFlags.Depth
	}
	if set["presence-timeout"] {
		sc.PresenceTimeout = soakFlags.PresenceTimeout
	}
	if set["queue-limit"] {
		sc.QueueLimit = soakFlags.QueueLimit
	}
}

func (sc *scenario) check() error {
	switch {
	case sc.Service == "":
		return errors.New("empty service name")
	case sc.Clients <= 0:
		return errors.New("no clients")
	case sc.Requests < 0:
		return errors.New("negative request count")
	case sc.MatchDelay < 0 || sc.PresenceTimeout < 0:
		return errors.New("negative duration")
	}
	return nil
}

// MarshalLogObject implements the zapcore.ObjectMarshaler interface.
func (sc *scenario) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("service", sc.Service)
	enc.AddInt("clients", sc.Clients)
	enc.AddInt("requests", sc.Requests)
	enc.AddDuration("match_delay", sc.MatchDelay)
	enc.AddInt("depth", sc.Depth)
	enc.AddDuration("presence_timeout", sc.PresenceTimeout)
	enc.AddInt("queue_limit", sc.QueueLimit)
	return nil
}
