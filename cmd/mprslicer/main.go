package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"mprslicer/pkg/acquisition"
	"mprslicer/pkg/config"
	"mprslicer/pkg/fetch"
	"mprslicer/pkg/loader"
	"mprslicer/pkg/logging"
	"mprslicer/pkg/metadata"
	"mprslicer/pkg/server"
	"mprslicer/pkg/visualization"
)

var allOrientations = []string{"axial", "coronal", "sagittal"}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code once every deferred cleanup has run.
func run(args []string) int {
	flags := flag.NewFlagSet("mprslicer", flag.ContinueOnError)
	configPath := flags.String("config", "config.yaml", "Configuration file (.yaml or .toml)")
	inputPath := flags.String("input", "", "Stack directory or base URL holding the 2D slices")
	orientation := flags.String("orientation", "all", "Comma-separated orientations to extract (axial, coronal, sagittal, all) or six row/column cosines")
	outputDir := flags.String("output", "slices", "Directory to save extracted slices")
	serveAddr := flags.String("serve", "", "Serve the loader over HTTP at this address instead of extracting slices")
	numCores := flags.Int("cores", 0, "Number of images fetched and decoded in parallel (default from config)")
	writeConfig := flags.Bool("write-config", false, "Write the default configuration to -config and exit")
	quiet := flags.Bool("quiet", false, "Only log errors")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *quiet {
		logging.SetLogMode(logging.ErrorMode)
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logging.Errorf("Failed to write config: %v", err)
			return 1
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Errorf("Failed to load config: %v", err)
		return 1
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *serveAddr != "" {
		cfg.Server.Address = *serveAddr
	}

	cfg.Logging.SetLogger()
	defer logging.Shutdown()

	mode, err := cfg.InterpolationMode()
	if err != nil {
		logging.Errorf("Invalid interpolation: %v", err)
		return 1
	}

	router := fetch.NewRouter(cfg.Loader.HeaderBytes)
	acq := acquisition.New(router, acquisition.WithCores(cfg.Processing.NumCores))
	defer acq.Close()

	l := loader.New(acq, metadata.NewManager(cfg.Cache.MetaDataBytes),
		loader.WithScheme(cfg.Loader.Scheme),
		loader.WithInterpolation(mode),
		loader.WithConfigurer(router),
	)
	l.Configure(loader.Options{Headers: cfg.Loader.Headers})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serveAddr != "" {
		srv := server.New(l, cfg.Server.CORSOrigins, cfg.Loader.UseRangeRead)
		if err := srv.ListenAndServe(ctx, cfg.Server.Address); err != nil {
			logging.Errorf("server stopped: %v", err)
			return 1
		}
		return 0
	}

	if *inputPath == "" {
		flags.Usage()
		return 1
	}

	location := *inputPath
	if !strings.Contains(location, "://") {
		if location, err = filepath.Abs(location); err != nil {
			logging.Errorf("Failed to resolve input path: %v", err)
			return 1
		}
	}

	orientations := strings.Split(*orientation, ",")
	if *orientation == "all" {
		orientations = allOrientations
	} else if len(orientations) == 6 {
		orientations = []string{*orientation}
	}

	viewer := visualization.NewViewer(l, cfg.Loader.UseRangeRead)
	startTime := time.Now()
	for _, o := range orientations {
		address := fmt.Sprintf("%s:%s#orientation=%s", cfg.Loader.Scheme, location, strings.TrimSpace(o))
		dir := filepath.Join(*outputDir, sanitize(o))

		fmt.Printf("Saving %s slices to: %s\n", o, dir)
		n, err := viewer.SaveSliceSequence(ctx, address, dir)
		if err != nil {
			logging.Errorf("Failed to save %s slices: %v", o, err)
			return 1
		}
		fmt.Printf("- %d slices written\n", n)
	}

	st := acq.Stats()
	fmt.Printf("\nSlice extraction completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("- Volume voxels held in cache: %s\n", humanize.Comma(int64(st.Cache.Voxels)))
	fmt.Printf("- Acquisitions started: %d, served from cache: %d, joined in flight: %d\n",
		st.Started, st.CacheHits, st.Joined)
	return 0
}

// sanitize turns an orientation into a directory name.
func sanitize(o string) string {
	return strings.NewReplacer(",", "_", " ", "").Replace(strings.TrimSpace(o))
}
