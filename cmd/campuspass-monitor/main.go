package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/campuspass/campuspass/pkg/config"
	"github.com/campuspass/campuspass/pkg/geofence"
	"github.com/campuspass/campuspass/pkg/logging"
	"github.com/campuspass/campuspass/pkg/storage"
)

const version = "0.1.0"

// campuspass-monitor consumes position fixes for one subject and keeps
// the persisted geofence state current. Fixes are read from stdin, one
// per line: "<latitude> <longitude> [accuracy-meters]". The external
// location service is expected to pipe its output here.
//
// Exit codes:
//   0 = clean shutdown
//   1 = bad invocation or malformed configuration
//   2 = campus boundary not configured

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	subject := flag.String("subject", "", "Subject ID to record geofence state for")
	flag.Parse()

	// Environment overlay; absence of a .env file is fine.
	_ = godotenv.Load()

	subjectID := *subject
	if subjectID == "" {
		subjectID = os.Getenv("CAMPUSPASS_SUBJECT")
	}
	if subjectID == "" {
		fmt.Fprintln(os.Stderr, "Error: subject required (-subject or CAMPUSPASS_SUBJECT)")
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	gc, err := cfg.Campus()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: campus boundary not configured; the monitor cannot run")
		os.Exit(2)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	campus := geofence.Campus{
		Latitude:     gc.CenterLatitude,
		Longitude:    gc.CenterLongitude,
		RadiusMeters: gc.RadiusMeters,
	}
	monitor, err := geofence.NewMonitor(campus, store.GeofenceWriter(subjectID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logging.Infof("CampusPass monitor v%s watching subject %s (radius %.0f m)",
		version, subjectID, campus.RadiusMeters)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fixes := make(chan geofence.Fix)
	go readFixes(fixes)

	if err := monitor.Run(ctx, fixes); err != nil && ctx.Err() == nil {
		logging.WithError(err).Error("monitor stopped")
		os.Exit(1)
	}

	logging.Info("monitor shut down")
}

// readFixes parses fix lines from stdin and closes the channel on EOF.
// Malformed lines are skipped; the stream continues.
func readFixes(out chan<- geofence.Fix) {
	defer close(out)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			logging.Warnf("skipping malformed fix line: %q", line)
			continue
		}

		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			logging.Warnf("skipping malformed fix line: %q", line)
			continue
		}

		fix := geofence.Fix{Latitude: lat, Longitude: lon, At: time.Now()}
		if len(fields) >= 3 {
			if acc, err := strconv.ParseFloat(fields[2], 64); err == nil {
				fix.AccuracyMeters = acc
			}
		}
		out <- fix
	}
}
