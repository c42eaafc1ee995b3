package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundforge/djengine/internal/analysis"
	"github.com/soundforge/djengine/internal/config"
	"github.com/soundforge/djengine/internal/control"
	"github.com/soundforge/djengine/internal/db"
	"github.com/soundforge/djengine/internal/engine"
	"github.com/soundforge/djengine/internal/mcp"
	"github.com/soundforge/djengine/internal/output"
	"github.com/soundforge/djengine/internal/record"
	"github.com/soundforge/djengine/internal/types"
)

func main() {
	dbPath := flag.String("db", "djengine.db", "SQLite database path")
	libraryDir := flag.String("library", "./library", "Directory of workspace subdirectories containing tracks")
	deviceID := flag.Int("device", -1, "Output device id (-1 uses the stored device id, else autoselects)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	database, err := db.Open(*dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg := config.New(database)
	structureCache := analysis.NewCache(database)
	historyStore := record.NewHistoryStore(database)

	recordingDir := cfg.Get("recording_dir", "./recordings")
	if err := os.MkdirAll(recordingDir, 0o755); err != nil {
		slog.Error("failed to create recording directory", "error", err)
		os.Exit(1)
	}
	recorder := record.New(recordingDir, historyStore)

	if err := output.Init(); err != nil {
		slog.Error("failed to initialise audio backend", "error", err)
		os.Exit(1)
	}
	defer output.Terminate()

	devices, err := output.ListDevices()
	if err != nil {
		slog.Error("failed to enumerate output devices", "error", err)
		os.Exit(1)
	}

	configured := *deviceID
	if configured < 0 {
		configured = cfg.GetInt("output_device_id", -1)
	}
	selected, err := output.SelectDevice(configured, devices)
	if err != nil {
		slog.Error("no suitable output device available", "error", err)
		os.Exit(1)
	}

	routing := types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted}
	channels, routing := output.RequiredChannels(routing, selected.MaxOutputChannels)

	eng := engine.New(channels, routing, recorder, structureCache)
	eng.Mixer.MasterBPM = cfg.GetFloat("master_bpm", 120)

	if err := eng.Start(selected.ID, channels); err != nil {
		slog.Error("failed to start audio engine", "error", err)
		os.Exit(1)
	}
	defer eng.Stop()

	cfg.Set("output_device_id", fmt.Sprintf("%d", selected.ID))
	database.Exec(
		`INSERT INTO last_device (id, device_id, device_name, channels) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET device_id=excluded.device_id, device_name=excluded.device_name, channels=excluded.channels`,
		selected.ID, selected.Name, channels,
	)

	hub := control.NewHub()
	go hub.Run()
	defer hub.Close()

	proto := control.New(eng, hub)
	proto.Run()
	defer proto.Stop()

	port := os.Getenv("MCP_PORT")
	if port == "" {
		port = "8888"
	}
	server := mcp.New(proto, *libraryDir)
	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("remote tool surface listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("remote tool surface error", "error", err)
		}
	}()

	slog.Info("engine ready", "device", selected.Name, "channels", channels)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
