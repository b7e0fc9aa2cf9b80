package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/milk9111/drivesim/drivelog"
	"github.com/milk9111/drivesim/routes"
	"github.com/milk9111/drivesim/sim"
	"github.com/milk9111/drivesim/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "drivesim",
		Usage: "Drive vehicles along waypoint routes in a headless simulation",
		Commands: []*cli.Command{
			runCommand(),
			{
				Name:      "validate",
				Usage:     "Check route documents against the schema and path rules",
				ArgsUsage: "<route>...",
				Action:    validateRoutes,
			},
			{
				Name:   "routes",
				Usage:  "List the available routes and scenes",
				Action: listRoutes,
			},
			{
				Name:  "runs",
				Usage: "List runs recorded in a drive log",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "db",
						Usage: "SQLite drive log to read",
						Value: "drivesim.db",
					},
				},
				Action: listRuns,
			},
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a scene until every vehicle finishes its route",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scene",
				Aliases: []string{"s"},
				Usage:   "Scene document name",
				Value:   "demo",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "Upper bound on simulated time; 0 runs until done",
				Value:   2 * time.Minute,
			},
			&cli.FloatFlag{
				Name:  "dt",
				Usage: "Fixed step in seconds",
				Value: sim.DefaultStep,
			},
			&cli.BoolFlag{
				Name:  "realtime",
				Usage: "Pace steps against the wall clock",
			},
			&cli.StringFlag{
				Category: "Outputs",
				Name:     "telemetry-addr",
				Usage:    "Serve the observer websocket feed on this loopback address (e.g. 127.0.0.1:8089)",
			},
			&cli.StringFlag{
				Category: "Outputs",
				Name:     "db",
				Usage:    "Record the run and its events to this SQLite file",
			},
			&cli.StringFlag{
				Category: "Outputs",
				Name:     "trace-dir",
				Usage:    "Write a compressed motion trace into this directory",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Reload routes and scripts edited on disk while running",
			},
		},
		Action: runScene,
	}
}

func runScene(ctx context.Context, cmd *cli.Command) error {
	scene, err := routes.LoadScene(cmd.String("scene"))
	if err != nil {
		return pkgerrors.Wrap(err, "could not load scene")
	}
	sim.SetLogLevel(scene.LogLevel)

	s, err := sim.Build(scene, sim.Options{})
	if err != nil {
		return pkgerrors.Wrap(err, "could not build scene")
	}

	runner := &sim.Runner{
		Sim:      s,
		Step:     cmd.Float("dt"),
		Duration: cmd.Duration("duration"),
		Realtime: cmd.Bool("realtime"),
	}

	if addr := cmd.String("telemetry-addr"); addr != "" {
		hub := telemetry.NewHub(nil)
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("telemetry: serve", "addr", addr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		runner.Hub = hub
		slog.Info("telemetry: listening", "addr", addr, "path", "/ws")
	}

	if path := cmd.String("db"); path != "" {
		dlog, err := drivelog.OpenSQLite(path)
		if err != nil {
			return pkgerrors.Wrap(err, "could not open drive log")
		}
		defer dlog.Close()
		runner.Log = dlog
	}

	if dir := cmd.String("trace-dir"); dir != "" {
		name := drivelog.TracePath(dir, scene.Name, time.Now().Unix())
		trace, err := drivelog.CreateTrace(name)
		if err != nil {
			return pkgerrors.Wrap(err, "could not create trace")
		}
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("trace: close", "path", name, "err", err)
			}
		}()
		runner.Trace = trace
	}

	if cmd.Bool("watch") {
		watcher, err := routes.WatchDisk()
		if err != nil {
			return pkgerrors.Wrap(err, "could not watch routes")
		}
		defer watcher.Close()
		runner.Watcher = watcher
	}

	res, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(err, "run failed")
	}
	fmt.Printf("%s: %s after %.2fs (%d ticks, %d events)\n", scene.Name, res.Status, res.Elapsed, res.Ticks, res.Events)
	return nil
}

func validateRoutes(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return errors.New("validate: at least one route name is required")
	}
	failed := 0
	for _, name := range names {
		spec, err := routes.LoadRoute(name)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", name, err)
			failed++
			continue
		}
		source := "embedded"
		if mt, ok := routes.ModTime(name); ok {
			source = "disk, modified " + mt.Local().Format(time.DateTime)
		}
		fmt.Printf("ok   %s: %d waypoints, loop=%t (%s)\n", name, len(spec.Waypoints), spec.Loop, source)
	}
	if failed > 0 {
		return fmt.Errorf("validate: %d of %d routes invalid", failed, len(names))
	}
	return nil
}

func listRoutes(ctx context.Context, cmd *cli.Command) error {
	names, err := routes.Names()
	if err != nil {
		return pkgerrors.Wrap(err, "could not list routes")
	}
	scenes, err := routes.SceneNames()
	if err != nil {
		return pkgerrors.Wrap(err, "could not list scenes")
	}
	for _, n := range names {
		fmt.Printf("route  %s\n", n)
	}
	for _, n := range scenes {
		fmt.Printf("scene  %s\n", n)
	}
	return nil
}

func listRuns(ctx context.Context, cmd *cli.Command) error {
	dlog, err := drivelog.OpenSQLite(cmd.String("db"))
	if err != nil {
		return pkgerrors.Wrap(err, "could not open drive log")
	}
	defer dlog.Close()

	runs, err := dlog.Runs(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "could not read runs")
	}
	for _, r := range runs {
		fmt.Printf("%4d  %-10s %-9s %8.2fs %7d ticks  %s\n", r.ID, r.Scene, r.Status, r.Elapsed, r.Ticks, r.StartedAt.Local().Format(time.DateTime))
	}
	return nil
}
