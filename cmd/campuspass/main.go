package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/campuspass/campuspass/pkg/config"
	"github.com/campuspass/campuspass/pkg/geofence"
	"github.com/campuspass/campuspass/pkg/logging"
	"github.com/campuspass/campuspass/pkg/recognition"
	"github.com/campuspass/campuspass/pkg/storage"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"list": {
			Name:        "list",
			Description: "List all enrolled subjects",
			Usage:       "campuspass list",
			Run:         cmdList,
		},
		"remove": {
			Name:        "remove",
			Description: "Remove a subject's template and records",
			Usage:       "campuspass remove <subject>",
			Run:         cmdRemove,
		},
		"status": {
			Name:        "status",
			Description: "Show enrollment, geofence and request state for a subject",
			Usage:       "campuspass status <subject>",
			Run:         cmdStatus,
		},
		"check": {
			Name:        "check",
			Description: "Check a position against the configured campus boundary",
			Usage:       "campuspass check <latitude> <longitude>",
			Run:         cmdCheck,
		},
		"detect": {
			Name:        "detect",
			Description: "Detect faces in an image file using the dlib models",
			Usage:       "campuspass detect <image-file>",
			Run:         cmdDetect,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "campuspass config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "campuspass version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "campuspass help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Get remaining args after flags
	args := flag.Args()

	// Environment overlay; absence of a .env file is fine.
	_ = godotenv.Load()

	// Load configuration
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

	// Expand paths in config
	cfg.ExpandPaths()

	// Initialize logging
	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("CampusPass v%s starting", version)
	logging.Debugf("Config loaded, storage dir: %s", cfg.Storage.DataDir)

	// Show usage if no command provided
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	// Find and run command
	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	// Run the command
	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("CampusPass - Campus Presence Verification")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: campuspass [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"list", "remove", "status", "check", "detect", "config", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-12s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  campuspass status s1234567        # Show state for subject s1234567")
	fmt.Println("  campuspass check 48.306 14.286    # Is this position on campus?")
	fmt.Println("\nRun 'campuspass help <command>' for more information on a command.")
}

func openStorage() (*storage.FileStorage, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
}

// Command implementations

func cmdList(args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}

	subjects, err := store.ListSubjects()
	if err != nil {
		return err
	}

	if len(subjects) == 0 {
		fmt.Println("No subjects enrolled.")
		return nil
	}

	fmt.Printf("Enrolled subjects (%d):\n", len(subjects))
	for _, s := range subjects {
		fmt.Printf("  %s\n", s)
	}
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("subject required\nUsage: campuspass remove <subject>")
	}
	subjectID := args[0]

	store, err := openStorage()
	if err != nil {
		return err
	}

	if err := store.DeleteSubject(subjectID); err != nil {
		return err
	}

	fmt.Printf("Removed all records for subject '%s'.\n", subjectID)
	return nil
}

func cmdStatus(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("subject required\nUsage: campuspass status <subject>")
	}
	subjectID := args[0]

	store, err := openStorage()
	if err != nil {
		return err
	}

	fmt.Printf("Subject: %s\n", subjectID)

	rec, err := store.LoadSubject(subjectID)
	switch {
	case errors.Is(err, storage.ErrSubjectNotFound):
		fmt.Println("  Enrollment:  not enrolled")
	case err != nil:
		return err
	default:
		fmt.Printf("  Enrollment:  enrolled %s (template %d-d, updated %s)\n",
			rec.EnrolledAt.Format("2006-01-02"), len(rec.Template), rec.UpdatedAt.Format("2006-01-02 15:04"))
	}

	state, err := store.LoadGeofenceState(subjectID)
	switch {
	case errors.Is(err, storage.ErrNoGeofenceState):
		fmt.Println("  Geofence:    no state recorded")
	case err != nil:
		return err
	case state.Inside:
		fmt.Printf("  Geofence:    inside campus since %s\n", state.EnteredAt.Format("2006-01-02 15:04:05"))
	default:
		fmt.Printf("  Geofence:    outside campus (as of %s)\n", state.At.Format("2006-01-02 15:04:05"))
	}

	req, err := store.LatestRequest(subjectID)
	switch {
	case errors.Is(err, storage.ErrNoRequest):
		fmt.Println("  Request:     none")
	case err != nil:
		return err
	default:
		fmt.Printf("  Request:     %s (%s, %s)\n", req.ID, req.Status, req.RequestedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func cmdCheck(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("latitude and longitude required\nUsage: campuspass check <latitude> <longitude>")
	}

	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %s", args[0])
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %s", args[1])
	}

	gc, err := cfg.Campus()
	if err != nil {
		return err
	}
	campus := geofence.Campus{
		Latitude:     gc.CenterLatitude,
		Longitude:    gc.CenterLongitude,
		RadiusMeters: gc.RadiusMeters,
	}

	inside, distance := campus.Contains(geofence.Fix{Latitude: lat, Longitude: lon})
	where := "OUTSIDE"
	if inside {
		where = "INSIDE"
	}
	fmt.Printf("%s campus boundary (distance %.1f m, radius %.1f m)\n", where, distance, campus.RadiusMeters)
	return nil
}

func cmdDetect(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("image file required\nUsage: campuspass detect <image-file>")
	}

	det := recognition.NewDlibDetector()
	if err := det.LoadModels(cfg.Recognition.DetectorModelPath); err != nil {
		return err
	}
	defer det.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	regions, err := det.Detect(rgba)
	if err != nil {
		return err
	}

	if len(regions) == 0 {
		fmt.Println("No faces detected.")
		return nil
	}
	fmt.Printf("Detected %d face(s):\n", len(regions))
	for i, r := range regions {
		fmt.Printf("  %d: %dx%d at (%d,%d)\n", i+1, r.Width, r.Height, r.Left, r.Top)
	}
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current configuration:")
	fmt.Printf("  Camera rotation:     %d degrees\n", cfg.Camera.RotationDegrees)
	fmt.Printf("  Front facing:        %v\n", cfg.Camera.FrontFacing)
	fmt.Printf("  Match threshold:     %.2f\n", cfg.Recognition.MatchThreshold)
	fmt.Printf("  Detector models:     %s\n", cfg.Recognition.DetectorModelPath)
	if cfg.CampusConfigured() {
		fmt.Printf("  Campus center:       %.6f, %.6f\n", cfg.Geofence.CenterLatitude, cfg.Geofence.CenterLongitude)
		fmt.Printf("  Campus radius:       %.1f m\n", cfg.Geofence.RadiusMeters)
	} else {
		fmt.Println("  Campus:              not configured")
	}
	fmt.Printf("  Storage dir:         %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Encryption:          %v\n", cfg.Storage.EncryptionEnabled)
	fmt.Printf("  Log level:           %s\n", cfg.Logging.Level)
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("CampusPass v%s\n", version)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) < 1 {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}

	fmt.Printf("%s - %s\n\nUsage: %s\n", cmd.Name, cmd.Description, cmd.Usage)
	return nil
}
