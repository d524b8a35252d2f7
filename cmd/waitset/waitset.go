// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program waitset is a command-line utility for exercising the waitset
// engine over an in-memory transport.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/creachadair/waitset"
	"github.com/creachadair/waitset/bus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var soakFlags struct {
	Config          string        `flag:"config,Read scenario settings from this YAML file"`
	Service         string        `flag:"service,Service name"`
	Clients         int           `flag:"clients,Number of concurrent clients"`
	Requests        int           `flag:"requests,Number of requests per client"`
	MatchDelay      time.Duration `flag:"match-delay,Simulated discovery delay"`
	Depth           int           `flag:"depth,Reader history depth (0 means unlimited)"`
	PresenceTimeout time.Duration `flag:"presence-timeout,Presence check timeout"`
	QueueLimit      int           `flag:"queue-limit,Maximum service queue length (0 means unbounded)"`
	JSONLog         bool          `flag:"json-log,Write logs as JSON"`
	Verbose         bool          `flag:"v,Enable verbose logging"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for exercising the waitset engine.",
		Commands: []*command.C{
			{
				Name:     "soak",
				Usage:    "[flags]",
				SetFlags: command.Flags(flax.MustBind, &soakFlags),
				Help: `Run a request/reply scenario over an in-memory bus.

A single service echoes the requests of a number of concurrent clients.
Each client waits for the service to be matched, then sends its requests
one at a time and waits for each reply. When all clients are done, the
engine metrics are printed to stdout.

Settings are read from the --config file, if one is given, and then any
flags set on the command line take precedence. Unset values use defaults.
`,
				Run: runSoak,
			},
			{
				Name: "metrics",
				Help: "Print the names and initial values of the engine metrics.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 0 {
						return env.Usagef("extra arguments after command")
					}
					fmt.Println(waitset.Metrics().String())
					return nil
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runSoak(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments after command")
	}
	sc, err := loadScenario(soakFlags.Config)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	env.Command.Flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	sc.override(set)
	if err := sc.check(); err != nil {
		return env.Usagef("invalid scenario: %v", err)
	}

	log, err := newLogger(soakFlags.JSONLog, soakFlags.Verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()
	log.Info("starting soak", zap.Object("scenario", sc))

	b := bus.New(&bus.Options{
		MatchDelay: sc.MatchDelay,
		Depth:      sc.Depth,
		Logger:     log.Named("bus"),
	})
	node := waitset.NewNode(b, &waitset.Options{
		PresenceTimeout: sc.PresenceTimeout,
		QueueLimit:      sc.QueueLimit,
		Logger:          log.Named("engine"),
	})

	start := time.Now()
	serr := runScenario(node, sc, log)
	elapsed := time.Since(start)

	err = multierr.Combine(serr, node.Close(), b.Close())
	log.Info("soak complete", zap.Duration("elapsed", elapsed), zap.Error(err))
	fmt.Println(waitset.Metrics().String())
	return err
}

func runScenario(node *waitset.Node, sc *scenario, log *zap.Logger) error {
	svc, err := node.NewService(sc.Service)
	if err != nil {
		return err
	}
	stop := node.NewGuardCondition()

	srv := taskgroup.Go(func() error { return serve(svc, stop, log) })

	g := taskgroup.New(nil)
	for i := range sc.Clients {
		g.Go(func() error { return runClient(node, sc, i+1, log) })
	}
	cerr := g.Wait()
	stop.Trigger()
	return multierr.Append(cerr, srv.Wait())
}

// serve echoes requests to svc until stop is triggered.
func serve(svc *waitset.Service, stop *waitset.GuardCondition, log *zap.Logger) error {
	srcs := []waitset.Source{svc, stop}
	for {
		if _, err := waitset.Wait(srcs, waitset.Forever); err != nil {
			return err
		}
		if stop.TakeAndReset() {
			return nil
		}
		for {
			req, ok := svc.TakeRequest()
			if !ok {
				break
			}
			if err := reply(svc, req, []byte(strings.ToUpper(string(req.Payload)))); err != nil {
				log.Warn("reply failed", zap.Stringer("request", req.Origin), zap.Error(err))
			}
		}
	}
}

// maxReplyAttempts bounds the number of times a reply is retried while its
// destination is not yet matched.
const maxReplyAttempts = 10

func reply(svc *waitset.Service, req waitset.PendingRequest, data []byte) error {
	for range maxReplyAttempts {
		err := svc.SendResponse(req, data)
		if !errors.Is(err, waitset.ErrNotReady) {
			return err
		}
	}
	return fmt.Errorf("no reply after %d attempts: %w", maxReplyAttempts, waitset.ErrNotReady)
}

// replyTimeout bounds the time a client waits for each reply.
const replyTimeout = 5 * time.Second

func runClient(node *waitset.Node, sc *scenario, id int, log *zap.Logger) error {
	cli, err := node.NewClient(sc.Service)
	if err != nil {
		return err
	}
	defer cli.Close()
	log = log.With(zap.Int("client", id))

	if err := awaitService(cli, sc.MatchDelay+replyTimeout); err != nil {
		return fmt.Errorf("client %d: %w", id, err)
	}
	srcs := []waitset.Source{cli}
	for i := range sc.Requests {
		msg := fmt.Sprintf("client %d request %d", id, i+1)
		seq, err := cli.SendRequest([]byte(msg))
		if err != nil {
			return fmt.Errorf("client %d: %w", id, err)
		}
		rsp, err := awaitResponse(cli, srcs)
		if err != nil {
			return fmt.Errorf("client %d request %d: %w", id, seq, err)
		}
		if rsp.Seq != seq {
			return fmt.Errorf("client %d: got reply for %d, want %d", id, rsp.Seq, seq)
		} else if got, want := string(rsp.Payload), strings.ToUpper(msg); got != want {
			return fmt.Errorf("client %d: got reply %q, want %q", id, got, want)
		}
		log.Debug("reply ok", zap.Int64("seq", seq))
	}
	return nil
}

// awaitService polls until cli is matched with a service, or until timeout
// elapses.
func awaitService(cli *waitset.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !cli.ServiceReady() {
		if time.Now().After(deadline) {
			return errors.New("service not matched")
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func awaitResponse(cli *waitset.Client, srcs []waitset.Source) (waitset.Response, error) {
	deadline := time.Now().Add(replyTimeout)
	for {
		if rsp, ok := cli.TakeResponse(); ok {
			return rsp, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return waitset.Response{}, errors.New("timed out waiting for reply")
		}
		if _, err := waitset.Wait(srcs, left); err != nil {
			return waitset.Response{}, err
		}
	}
}

func newLogger(json, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
