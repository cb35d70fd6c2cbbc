// Command psyched is the orchestrator: it loads the pipeline's TOML
// config, resolves the wit graph, starts the memory service, the action
// loop's motors, the daemon fabric's pipe listeners, and finally the
// pipeline clock, in that order, then blocks until signaled and shuts
// everything down again in reverse.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/dancxjo/psyche/internal/action"
	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/buildinfo"
	"github.com/dancxjo/psyche/internal/config"
	"github.com/dancxjo/psyche/internal/conversation"
	"github.com/dancxjo/psyche/internal/fabric"
	"github.com/dancxjo/psyche/internal/llm"
	"github.com/dancxjo/psyche/internal/memory"
	"github.com/dancxjo/psyche/internal/rpcutil"
	"github.com/dancxjo/psyche/internal/wit"
)

func main() {
	configPath := flag.String("config", "", "path to psyche.toml")
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
	logger.Info("psyched starting", "config", cfgPath, "version", buildinfo.Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	b := bus.New(logger)

	// 1. Memory service first, so every other component can durably record.
	memOpts, err := memoryOptions(cfg, logger)
	if err != nil {
		logger.Error("failed to configure memory service", "err", err)
		os.Exit(1)
	}
	svc, err := memory.NewService(cfg.DataDir, logger, memOpts...)
	if err != nil {
		logger.Error("failed to open memory service", "err", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcServer := rpcutil.NewServer(logger)
	svc.RegisterRPC(rpcServer)
	memSocket := cfg.DataDir + "/memory.sock"
	go func() {
		if err := fabric.ServeRPC(ctx, memSocket, rpcServer); err != nil && ctx.Err() == nil {
			logger.Error("memory rpc socket failed", "err", err)
		}
	}()

	// 2. Action loop and its built-in motors.
	loop := action.NewLoop(b, logger)
	loop.RegisterMotor("log", &action.LogMotor{Path: cfg.DataDir + "/motor.log"})
	if cfg.Spoken.TTSURL != "" {
		loop.RegisterMotor("say", &action.SayMotor{
			TTSURL:     cfg.Spoken.TTSURL,
			SpeakerID:  cfg.Spoken.SpeakerID,
			LanguageID: cfg.Spoken.LanguageID,
		})
	}
	loop.RegisterMotor("note", &action.NoteMotor{})
	loop.RegisterMotor("fetch", &action.FetchMotor{})
	loop.RegisterMotor("draw", &action.DrawMotor{})
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ghClient := github.NewClient(nil).WithAuthToken(token)
		loop.RegisterMotor("github", &action.GitHubMotor{
			Client: ghClient,
			Repo:   os.Getenv("GITHUB_REPO"),
		})
	}

	// 3. Resolve the wit graph: one pipeline wit per [wit.<name>] section,
	// each bound to its declared (or default) LLM profile, with the memory
	// service as its durability target.
	memAdapter := inProcessMemoryClient{svc: svc}
	pipeline := wit.NewPipeline(b, wit.DefaultBeatInterval, logger)
	clients := make(map[string]llm.Client)
	for name, w := range cfg.Wit {
		profileName := w.LLM
		client, ok := clients[profileName]
		if !ok {
			profile, ok := cfg.LLM[profileName]
			if !ok {
				profile = defaultProfile(cfg)
			}
			client, err = llm.NewClientForProfile(profile, logger)
			if err != nil {
				logger.Error("failed to construct llm client", "wit", name, "err", err)
				os.Exit(1)
			}
			clients[profileName] = client
		}
		pipeline.AddWit(wit.Definition{
			Name:         name,
			Input:        w.Input,
			Output:       w.Output,
			Prompt:       w.Prompt,
			Priority:     w.Priority,
			BeatMod:      w.BeatMod,
			Feedback:     w.Feedback,
			LLMProfile:   w.LLM,
			Postprocess:  w.Postprocess,
			HistoryDepth: w.HistoryDepth,
		}, memAdapter, client)
	}
	if err := pipeline.ValidateGraph(); err != nil {
		logger.Error("wit graph invalid", "err", err)
		os.Exit(1)
	}

	// Conversational wits' completions are post-processed for embedded
	// action tags, re-entering the action loop in one shot per impression
	// rather than token-by-token.
	unsubscribeAction := subscribeConversationalOutputs(b, cfg, loop, ctx, logger)
	defer unsubscribeAction()

	// 4. Daemon fabric: one pipe listener per [pipe.<name>] section.
	var wg sync.WaitGroup
	for name, p := range cfg.Pipe {
		name, p := name, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener := &fabric.PipeListener{
				Name:       name,
				SocketPath: p.Socket,
				KindPrefix: p.Path,
				DependsOn:  p.DependsOn,
				Bus:        b,
				Logger:     logger,
			}
			if err := listener.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pipe listener failed", "pipe", name, "err", err)
			}
		}()
	}

	// 4b. In-process sensor bridges: [sensor.<name>] entries with a Kind
	// start an MQTT or email bridge directly, rather than waiting on an
	// external process to write to a daemon-fabric socket.
	for name, s := range cfg.Sensor {
		if !s.Enabled {
			continue
		}
		name, s := name, s
		switch s.Kind {
		case "mqtt":
			wg.Add(1)
			go func() {
				defer wg.Done()
				sensor := &fabric.MQTTSensor{
					Name:      name,
					BrokerURL: s.Broker,
					Topics:    s.Topics,
					Bus:       b,
					Logger:    logger,
				}
				if err := sensor.Listen(ctx); err != nil && ctx.Err() == nil {
					logger.Error("mqtt sensor failed", "sensor", name, "err", err)
				}
			}()
		case "email":
			wg.Add(1)
			go func() {
				defer wg.Done()
				sensor := &fabric.EmailSensor{
					Name: name,
					Cfg: fabric.EmailSensorConfig{
						Host:     s.Host,
						Port:     s.Port,
						TLS:      s.TLS,
						Username: s.Username,
						Password: s.Password,
						Folder:   s.Folder,
					},
					Bus:    b,
					Logger: logger,
				}
				if err := sensor.Listen(ctx); err != nil && ctx.Err() == nil {
					logger.Error("email sensor failed", "sensor", name, "err", err)
				}
			}()
		}
	}

	// 5. A running transcript of chat input and spoken output, exercising
	// the conversation window outside of prompt rendering .
	window := conversation.NewWindow("", 200)
	stopTranscript := watchTranscript(ctx, b, window, logger)
	defer stopTranscript()

	// 6. Finally, the pipeline clock.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("pipeline stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		logger.Warn("shutdown drain timed out")
	}

	logger.Info("psyched stopped")
}

// inProcessMemoryClient satisfies wit.MemoryClient by calling the in-process
// memory.Service directly, skipping the RPC socket round-trip that a
// separately-deployed memoryd would require.
type inProcessMemoryClient struct {
	svc *memory.Service
}

func (m inProcessMemoryClient) Memorize(ctx context.Context, kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal memorize payload for kind %s: %w", kind, err)
	}
	return m.svc.Memorize(ctx, kind, raw)
}

// memoryOptions builds the memory.Service options for similarity indexing,
// if any LLM profile declares an embed model.
func memoryOptions(cfg *config.Config, logger *slog.Logger) ([]memory.Option, error) {
	for _, p := range cfg.LLM {
		if p.EmbedModel == "" {
			continue
		}
		client, err := llm.NewClientForProfile(p, logger)
		if err != nil {
			return nil, err
		}
		return []memory.Option{memory.WithEmbedder(client, memory.NewInProcessVectorStore())}, nil
	}
	return nil, nil
}

// defaultProfile returns the config's "default" LLM profile if declared,
// or a bare Ollama profile pointed at localhost otherwise.
func defaultProfile(cfg *config.Config) config.LLMProfile {
	if p, ok := cfg.LLM["default"]; ok {
		return p
	}
	return config.LLMProfile{Provider: "ollama", BaseURL: "http://localhost:11434", MaxConcurrent: 1}
}

// subscribeConversationalOutputs feeds every conversational wit's output
// sensations into the action loop, so an embedded action tag in a
// completion is executed.
func subscribeConversationalOutputs(b *bus.Bus, cfg *config.Config, loop *action.Loop, ctx context.Context, logger *slog.Logger) func() {
	var unsubscribes []func()
	for name, w := range cfg.Wit {
		if w.Priority == nil {
			continue // pipeline wits don't dispatch to motors
		}
		ch, unsubscribe := b.SubscribeBroadcast(w.Output)
		unsubscribes = append(unsubscribes, unsubscribe)
		go func(witName string, ch <-chan bus.Event) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					text, isString := ev.Sensation.What.String()
					if !isString {
						continue
					}
					if err := loop.Feed(ctx, text); err != nil {
						logger.Error("action loop feed failed", "wit", witName, "err", err)
					}
				}
			}
		}(name, ch)
	}
	return func() {
		for _, u := range unsubscribes {
			u()
		}
	}
}

// watchTranscript appends every chat sensation and spoken completion to
// window, giving the conversation window a real, continuously-updated feed
// rather than leaving it as an unexercised utility type.
func watchTranscript(ctx context.Context, b *bus.Bus, window *conversation.Window, logger *slog.Logger) func() {
	chatCh, unsubChat := b.SubscribeBroadcast("sensation/chat")
	spokenCh, unsubSpoken := b.SubscribeBroadcast("spoken")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-chatCh:
				if !ok {
					return
				}
				if text, isString := ev.Sensation.What.String(); isString {
					window.Append("user", text)
				} else if raw, isJSON := ev.Sensation.What.JSON(); isJSON {
					var payload struct {
						Text string `json:"text"`
					}
					if err := json.Unmarshal(raw, &payload); err == nil && payload.Text != "" {
						window.Append("user", payload.Text)
					}
				}
			case ev, ok := <-spokenCh:
				if !ok {
					return
				}
				if text, isString := ev.Sensation.What.String(); isString {
					window.Append("assistant", text)
					logger.Debug("transcript", "tail_len", len(window.Tail()))
				}
			}
		}
	}()

	return func() {
		unsubChat()
		unsubSpoken()
	}
}
