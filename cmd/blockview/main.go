// Command blockview turns a photo into a Minecraft build through the remote
// processing service: it uploads the image, voxelizes the returned model,
// maps the voxels to blocks and downloads the requested schematics. Each
// stage's result is displayed on a headless surface that streams to gRPC
// viewers.
//
// Usage:
//
//	blockview [flags] -image photo.png
//	blockview migrate up|down|version|force N
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/atlas"
	"github.com/banshee-data/blockview/internal/config"
	"github.com/banshee-data/blockview/internal/db"
	"github.com/banshee-data/blockview/internal/fsutil"
	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/monitor"
	"github.com/banshee-data/blockview/internal/pipeline"
	"github.com/banshee-data/blockview/internal/remote"
	"github.com/banshee-data/blockview/internal/scene"
	"github.com/banshee-data/blockview/internal/version"
	"github.com/banshee-data/blockview/internal/viewer"
	"github.com/banshee-data/blockview/internal/visualiser"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON client config")
	imagePath   = flag.String("image", "", "Image to reconstruct")
	apiURL      = flag.String("api", "", "Processing service base URL (overrides config)")
	maxBlocks   = flag.Int("max-blocks", 0, "Largest grid dimension in blocks (overrides config)")
	formats     = flag.String("formats", "litematic,schem", "Comma-separated export formats")
	serve       = flag.Bool("serve", false, "Keep serving the viewer and monitor after the run")
	monitorAddr = flag.String("monitor", "", "Monitor listen address (overrides config; \"off\" disables)")
	viewerAddr  = flag.String("viewer", "", "gRPC viewer listen address (overrides config; \"off\" disables)")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}
	flag.Parse()

	if *showVersion {
		log.Printf("blockview %s", version.String())
		return
	}
	os.Exit(run())
}

// run does the work of main and returns the exit code, so deferred cleanup
// runs before the process exits.
func run() int {
	fs := fsutil.OSFileSystem{}
	cfg, err := config.LoadOrDefault(fs, *configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	exportFormats, err := parseFormats(*formats)
	if err != nil {
		log.Fatal(err)
	}
	if *imagePath == "" && !*serve {
		log.Fatal("-image is required unless -serve is set")
	}

	database, err := db.NewDB(cfg.GetHistoryDB())
	if err != nil {
		log.Printf("failed to open history database: %v", err)
		return 1
	}
	defer database.Close()
	if n, err := database.PruneSessions(time.Now().Add(-cfg.GetSessionLifespan())); err != nil {
		log.Printf("failed to prune history: %v", err)
	} else if n > 0 {
		log.Printf("pruned %d expired sessions", n)
	}

	idx := atlas.NewIndex()
	if table, err := atlas.LoadFiles(fs, cfg.GetAtlasDescriptor(), cfg.GetAtlasImage()); err != nil {
		log.Printf("block atlas unavailable, blocks will not be displayed: %v", err)
		idx.SetError(err)
	} else {
		log.Printf("loaded block atlas with %d tiles", table.Len())
		idx.Set(table)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	publisher := viewer.NewPublisher(viewer.Config{ListenAddr: cfg.GetViewerListenAddr()})
	if cfg.GetViewerListenAddr() != "off" {
		if err := publisher.Start(); err != nil {
			log.Printf("failed to start viewer stream: %v", err)
			return 1
		}
		defer publisher.Stop()
	}

	surfaceCfg := scene.DefaultConfig()
	surfaceCfg.FrameInterval = cfg.GetFrameInterval()
	surface := scene.NewSurface(publisher, surfaceCfg)
	surface.InitCamera(cfg.GetViewportWidth(), cfg.GetViewportHeight())

	renderCtx, stopRender := context.WithCancel(ctx)
	defer func() {
		stopRender()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := surface.ContinuousRender(renderCtx); err != nil && err != context.Canceled {
			log.Printf("render loop stopped: %v", err)
		}
	}()

	transport := httputil.NewStandardClient(&http.Client{Timeout: cfg.GetRequestTimeout()})
	client, err := remote.NewClient(cfg.GetAPIBaseURL(), transport, cfg.GetMaxUploadBytes())
	if err != nil {
		log.Printf("invalid processing service URL: %v", err)
		return 1
	}
	vis := visualiser.New(surface, asset.NewLoader(transport), idx)
	session := pipeline.New(client, vis, pipeline.Config{
		Notifier: pipeline.LogNotifier{},
		Journal:  database,
	})

	if cfg.GetMonitorListenAddr() != "off" {
		mon, err := monitor.NewServer(monitor.Config{
			Address: cfg.GetMonitorListenAddr(),
			State:   session,
			Scene:   surface,
			Viewer:  publisher,
			DB:      database,
		})
		if err != nil {
			log.Printf("failed to create monitor: %v", err)
			return 1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Start(renderCtx); err != nil {
				log.Printf("monitor server error: %v", err)
			}
		}()
	}

	if *imagePath != "" {
		r := &runner{
			session: session,
			remote:  client,
			history: database,
			fs:      fs,
			dir:     cfg.GetDownloadDir(),
			formats: exportFormats,
			reconstruct: model.ReconstructOptions{
				RemoveBackground: cfg.GetRemoveBackground(),
				Resolution:       cfg.GetResolution(),
			},
			voxelize: model.VoxelizeParams{
				MaxBlocks: cfg.GetMaxBlocks(),
				Fill:      cfg.GetFill(),
			},
		}
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			log.Printf("failed to read image: %v", err)
			return 1
		}
		paths, err := r.run(ctx, data, *imagePath)
		if err != nil {
			log.Printf("%v", err)
		}
		for _, p := range paths {
			log.Printf("saved %s", p)
		}
		if err != nil && !*serve {
			return 1
		}
	}

	if *serve {
		log.Printf("serving viewer on %s; press Ctrl-C to stop", cfg.GetViewerListenAddr())
		<-ctx.Done()
	}
	session.Reset()
	stopRender()
	wg.Wait()
	log.Print("graceful shutdown complete")
	return 0
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.ClientConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api":
			cfg.APIBaseURL = apiURL
		case "max-blocks":
			cfg.MaxBlocks = maxBlocks
		case "monitor":
			cfg.MonitorListenAddr = monitorAddr
		case "viewer":
			cfg.ViewerListenAddr = viewerAddr
		}
	})
}

func parseFormats(s string) ([]model.ExportFormat, error) {
	var out []model.ExportFormat
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := model.ParseExportFormat(part)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
