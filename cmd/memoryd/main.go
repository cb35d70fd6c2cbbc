// Command memoryd runs the memory service as a standalone JSON-RPC daemon
// over a Unix socket: load config, wire dependencies, serve until signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dancxjo/psyche/internal/buildinfo"
	"github.com/dancxjo/psyche/internal/config"
	"github.com/dancxjo/psyche/internal/fabric"
	"github.com/dancxjo/psyche/internal/llm"
	"github.com/dancxjo/psyche/internal/memory"
	"github.com/dancxjo/psyche/internal/rpcutil"
)

func main() {
	configPath := flag.String("config", "", "path to psyche.toml")
	socketPath := flag.String("socket", "", "path to the memory daemon's Unix socket (overrides config's data_dir/memory.sock)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath, logger)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "err", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level", "err", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	sock := *socketPath
	if sock == "" {
		sock = cfg.DataDir + "/memory.sock"
	}

	var opts []memory.Option
	if embedProfile, ok := findEmbedProfile(cfg); ok {
		embedClient, err := llm.NewClientForProfile(embedProfile, logger)
		if err != nil {
			logger.Error("failed to construct embedding client", "err", err)
			os.Exit(1)
		}
		vectors := memory.NewInProcessVectorStore()
		opts = append(opts, memory.WithEmbedder(embedClient, vectors))
		logger.Info("similarity indexing enabled", "profile", embedProfile.Model)
	}

	svc, err := memory.NewService(cfg.DataDir, logger, opts...)
	if err != nil {
		logger.Error("failed to open memory service", "err", err)
		os.Exit(1)
	}
	defer svc.Close()

	server := rpcutil.NewServer(logger)
	svc.RegisterRPC(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("memoryd starting", "socket", sock, "data_dir", cfg.DataDir, "version", buildinfo.Version)
	if err := fabric.ServeRPC(ctx, sock, server); err != nil {
		logger.Error("memoryd stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("memoryd stopped")
}

// findEmbedProfile returns an LLM profile configured with an embed model, if
// any, so memoryd can index similarity without every deployment needing one.
// Profiles are held in a map, so which one is returned when several qualify
// is not defined.
func findEmbedProfile(cfg *config.Config) (config.LLMProfile, bool) {
	for _, p := range cfg.LLM {
		if p.EmbedModel != "" {
			return p, true
		}
	}
	return config.LLMProfile{}, false
}
