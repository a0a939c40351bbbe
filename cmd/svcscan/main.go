// Package main is the entry point of svcscan, the service registry scanner.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"svcregistry/internal/config"
	"svcregistry/internal/logger"
	"svcregistry/internal/network"
	"svcregistry/internal/registry"
	"svcregistry/internal/scanner"
	"svcregistry/internal/scheduler"
	"svcregistry/internal/sender"
	"svcregistry/internal/service"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const startupErrorLogDir = "log/svcscan"

const usage = `Usage: svcscan [flags] <command> [args]

Commands:
  list                  list every service definition and orphan
  status [-all] [-path] show services with a process (all with -all)
  path <label>          print the definition files of a label
  json                  print the snapshot as JSON
  watch                 rescan periodically and on changes, exporting snapshots

Flags:
`

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUnavailable = 2
	exitNotFound    = 3
)

func main() {
	var (
		configPath  = flag.String("config", "conf/svcscan/Scanner.json", "Path to scanner configuration file")
		watchPath   = flag.String("watch", "conf/svcscan/Watch.json", "Path to watch configuration file")
		loggingPath = flag.String("logging", "conf/svcscan/Logging.json", "Path to logging configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("svcscan %s (built %s)\n", version, buildTime)
		os.Exit(exitOK)
	}

	cmd := "list"
	args := flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, wc, lc, err := config.LoadSplit(*configPath, *watchPath, *loggingPath)
	if err != nil {
		if cmd == "watch" {
			service.WriteStartupErrorFile(startupErrorLogDir, err, os.Args)
		}
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(exitError)
	}

	// One-shot commands own stdout.
	if cmd != "watch" {
		lc.Console = false
	}
	if err := logger.Init(*lc); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitError)
	}

	var code int
	switch cmd {
	case "list":
		code = runList(cfg)
	case "status":
		code = runStatus(cfg, args)
	case "path":
		code = runPath(cfg, args)
	case "json":
		code = runJSON(cfg)
	case "watch":
		code = runWatch(cfg, wc, lc, *configPath, *loggingPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		code = exitError
	}
	logger.Close()
	os.Exit(code)
}

// scanOnce builds a scanner from cfg and runs a single scan.
func scanOnce(cfg *config.Config) (*scanner.Snapshot, int) {
	sc, err := scanner.NewFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "svcscan: %v\n", err)
		return nil, exitError
	}
	snap, err := sc.Scan(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "svcscan: %v\n", err)
		if errors.Is(err, scanner.ErrRegistryUnavailable) {
			return nil, exitUnavailable
		}
		return nil, exitError
	}
	for _, d := range snap.Diagnostics {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d)
	}
	return snap, exitOK
}

func runList(cfg *config.Config) int {
	snap, code := scanOnce(cfg)
	if snap == nil {
		return code
	}
	printTable(os.Stdout, scanner.Columns, snap.Rows())
	return exitOK
}

func runStatus(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	all := fs.Bool("all", false, "Show services without a process")
	withPath := fs.Bool("path", false, "Show the definition file column")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	snap, code := scanOnce(cfg)
	if snap == nil {
		return code
	}

	records := snap.Records
	if !*all {
		records = snap.WithPID()
	}
	columns := scanner.Columns
	rows := scanner.Rows(records)
	if !*withPath {
		columns = columns[:len(columns)-1]
		for i := range rows {
			rows[i] = rows[i][:len(rows[i])-1]
		}
	}
	printTable(os.Stdout, columns, rows)
	return exitOK
}

func runPath(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: svcscan path <label>")
		return exitError
	}

	snap, code := scanOnce(cfg)
	if snap == nil {
		return code
	}

	paths := snap.PathsFor(args[0])
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "no definition found for %s\n", args[0])
		return exitNotFound
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return exitOK
}

func runJSON(cfg *config.Config) int {
	snap, code := scanOnce(cfg)
	if snap == nil {
		return code
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sender.NewEnvelope(network.DetectHost(context.Background()), snap)); err != nil {
		fmt.Fprintf(os.Stderr, "svcscan: %v\n", err)
		return exitError
	}
	return exitOK
}

func printTable(w io.Writer, columns []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func runWatch(cfg *config.Config, wc *config.WatchConfig, lc *logger.Config, configPath, loggingPath string) int {
	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", configPath).
		Str("logging", loggingPath).
		Msg("Starting svcscan watch")

	var reloadMu sync.Mutex
	applyLogging := func(newLC *logger.Config) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if err := logger.Init(*newLC); err != nil {
			log.Error().Err(err).Msg("Failed to apply logging configuration")
			return
		}
		log.Info().Str("level", newLC.Level).Msg("Logging configuration updated")
	}
	reloadLogging := func() {
		newLC, err := config.LoadLogging(loggingPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload logging configuration")
			return
		}
		applyLogging(newLC)
	}

	svc := service.NewService(func(ctx context.Context) error {
		return watch(ctx, cfg, wc, lc, configPath, loggingPath, applyLogging)
	}, reloadLogging)

	if err := svc.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("Service exited with error")
		service.WriteStartupErrorFile(startupErrorLogDir, err, os.Args)
		return exitError
	}

	log.Info().Msg("svcscan stopped")
	return exitOK
}

func watch(ctx context.Context, cfg *config.Config, wc *config.WatchConfig, lc *logger.Config,
	configPath, loggingPath string, applyLogging func(*logger.Config)) error {

	log := logger.WithComponent("main")

	sc, err := scanner.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	host := network.DetectHost(ctx)
	log.Info().
		Str("hostname", host.Hostname).
		Str("platform", host.Platform).
		Str("platform_version", host.PlatformVersion).
		Msg("Host identified")

	// Logging.json Console is the master switch for console output.
	wc.File.Console = lc.Console
	snd, err := sender.NewSender(wc, host)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	defer func() {
		log.Info().Msg("Closing sender")
		if err := snd.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing sender")
		}
	}()

	sched := scheduler.New(sc, snd, wc.Interval, wc.Debounce)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	cleanup := setupWatchers(sc, wc, sched, configPath, loggingPath, applyLogging)
	defer cleanup()

	<-ctx.Done()
	st := sched.Stats()
	log.Info().
		Int("scans", st.Scans).
		Int("failures", st.Failures).
		Int("sent", st.Sent).
		Msg("Watch stopped")
	return nil
}

// setupWatchers starts the definition directory watcher and the
// configuration file watchers. It returns a function that stops them.
func setupWatchers(sc *scanner.Scanner, wc *config.WatchConfig, sched *scheduler.Scheduler,
	configPath, loggingPath string, applyLogging func(*logger.Config)) func() {

	log := logger.WithComponent("main")
	var cleanups []func()

	if wc.WatchDirs {
		var dirs []string
		for _, d := range sc.Dirs() {
			dirs = append(dirs, d.Path)
		}

		dw, err := config.NewDirWatcher(dirs, registry.DefinitionExt, sched.Trigger)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create directory watcher, change-triggered rescans disabled")
		} else if n, err := dw.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start directory watcher")
		} else {
			log.Info().Int("dirs", n).Msg("Watching definition directories")
			cleanups = append(cleanups, func() {
				if err := dw.Stop(); err != nil {
					log.Error().Err(err).Msg("Error stopping directory watcher")
				}
			})
		}
	}

	lw, err := config.NewLoggingWatcher(loggingPath, applyLogging)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create logging watcher, hot reload disabled")
	} else if err := lw.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start logging watcher")
	} else {
		cleanups = append(cleanups, func() {
			if err := lw.Stop(); err != nil {
				log.Error().Err(err).Msg("Error stopping logging watcher")
			}
		})
	}

	cw, err := config.NewConfigWatcher(configPath, func(newCfg *config.Config) {
		log.Warn().
			Strs("domains", newCfg.Domains).
			Msg("Scanner configuration changed; restart svcscan to apply it")
		sched.Trigger(configPath)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := cw.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		cleanups = append(cleanups, func() {
			if err := cw.Stop(); err != nil {
				log.Error().Err(err).Msg("Error stopping config watcher")
			}
		})
	}

	return func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}
