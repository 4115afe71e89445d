// Command voiced is the main entry point for the voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/glyphoxa/internal/agent"
	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/conn"
	ctxbuilder "github.com/MrWong99/glyphoxa/internal/context"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/mcp/mcphost"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/pipeline"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/toolruntime"
	"github.com/MrWong99/glyphoxa/internal/toolruntime/builtins"
	"github.com/MrWong99/glyphoxa/pkg/audio"
	"github.com/MrWong99/glyphoxa/pkg/memory"
	"github.com/MrWong99/glyphoxa/pkg/memory/postgres"
	"github.com/MrWong99/glyphoxa/pkg/provider/embeddings"
	embeddingsopenai "github.com/MrWong99/glyphoxa/pkg/provider/embeddings/openai"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	llmopenai "github.com/MrWong99/glyphoxa/pkg/provider/llm/openai"
	"github.com/MrWong99/glyphoxa/pkg/provider/s2s"
	s2sgemini "github.com/MrWong99/glyphoxa/pkg/provider/s2s/gemini"
	s2sopenai "github.com/MrWong99/glyphoxa/pkg/provider/s2s/openai"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt/httpstt"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts/httptts"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiced: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiced: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiced starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"wake_word", cfg.Session.WakeWord,
		"engine", cfg.Session.Engine,
	)

	// ── Provider registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Memory service ────────────────────────────────────────────────────
	memSvc, err := buildMemory(context.Background(), cfg, providers)
	if err != nil {
		slog.Error("failed to build memory service", "err", err)
		return 1
	}

	// ── Tool runtime ──────────────────────────────────────────────────────
	toolRegistry, executor, mcpHost := buildToolRuntime(context.Background(), cfg)
	if mcpHost != nil {
		defer func() {
			if err := mcpHost.Close(); err != nil {
				slog.Warn("mcp host close error", "err", err)
			}
		}()
	}

	// ── Agent ─────────────────────────────────────────────────────────────
	ag := &agent.Agent{
		LLM:            providers.LLM,
		Tools:          toolRegistry,
		Executor:       executor,
		ContextBuilder: buildContextBuilder(memSvc),
		Memory:         memSvc,
		MemoryDecay: memory.DecayOptions{
			RecencyWeight: cfg.Memory.RecencyWeight,
		},
	}

	// ── Telemetry ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	if cfg.Observability.MetricsAddr != "" {
		go func() {
			slog.Info("serving metrics", "addr", cfg.Observability.MetricsAddr)
			if err := http.ListenAndServe(cfg.Observability.MetricsAddr, promhttp.Handler()); err != nil {
				slog.Warn("metrics server stopped", "err", err)
			}
		}()
	}

	// ── Connection server ─────────────────────────────────────────────────
	srv := &conn.Server{
		NewSession: newSessionFactory(cfg, providers, ag, memSvc),
	}

	printStartupSummary(cfg, providers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	health.New(
		health.Checker{Name: "llm", Check: func(context.Context) error {
			if providers.LLM == nil {
				return errors.New("llm provider not configured")
			}
			return nil
		}},
	).Register(mux)

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		serveErr <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ─────────────────────────────────────────────────────────

// registerBuiltinProviders registers the concrete provider constructors that
// ship in pkg/provider against the names recognised by [config.ValidProviderNames].
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []llmopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterSTT("httpstt", func(e config.ProviderEntry) (stt.Provider, error) {
		return httpstt.New(e.BaseURL, httpstt.WithModel(e.Model))
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(e.APIKey, e.Model)
	})

	reg.RegisterS2S("openai", func(e config.ProviderEntry) (s2s.Provider, error) {
		return s2sopenai.New(e.APIKey), nil
	})
	reg.RegisterS2S("gemini", func(e config.ProviderEntry) (s2s.Provider, error) {
		return s2sgemini.New(e.APIKey), nil
	})
}

// builtProviders bundles every instantiated provider, mirroring the
// teacher's app.Providers but without the Discord-only Audio slot playing
// any role in the WebSocket transport this server actually speaks.
type builtProviders struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Client
	S2S        s2s.Provider
	Embeddings embeddings.Provider
	Audio      audio.Platform
}

// buildProviders instantiates every provider named in cfg. A provider name
// left empty is simply skipped; [config.ErrProviderNotRegistered] is
// likewise tolerated so an assistant can run with a partial provider set
// (e.g. cascaded engine without an s2s provider configured).
func buildProviders(cfg *config.Config, reg *config.Registry) (*builtProviders, error) {
	bp := &builtProviders{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			bp.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			bp.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := buildTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		bp.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.S2S.Name; name != "" {
		p, err := reg.CreateS2S(cfg.Providers.S2S)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("s2s provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create s2s provider %q: %w", name, err)
		} else {
			bp.S2S = p
			slog.Info("provider created", "kind", "s2s", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			bp.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.Audio.Name; name != "" {
		p, err := reg.CreateAudio(cfg.Providers.Audio)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("audio provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create audio provider %q: %w", name, err)
		} else {
			bp.Audio = p
			slog.Info("provider created", "kind", "audio", "name", name)
		}
	}

	return bp, nil
}

// fileVoiceStore resolves voice reference audio from files named
// "<voice_id>.wav" under Dir. Grounded on pkg/provider/tts/provider.go's
// VoiceStore contract; a directory-backed implementation is the simplest
// concrete store that doesn't require a database migration of its own.
type fileVoiceStore struct {
	Dir string
}

func (f fileVoiceStore) Reference(voiceID string) ([]byte, error) {
	if f.Dir == "" {
		return nil, fmt.Errorf("tts: no voice reference directory configured for %q", voiceID)
	}
	return os.ReadFile(f.Dir + "/" + voiceID + ".wav")
}

// buildTTS constructs the httptts.Client from the wider [config.TTSProviderConfig],
// which carries the endpoint list and circuit-breaker tuning that the plain
// registry factory signature has no room for.
func buildTTS(cfg config.TTSProviderConfig) (tts.Client, error) {
	endpoints := make([]httptts.Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpoints = append(endpoints, httptts.Endpoint{Name: ep.Name, URL: ep.URL, Priority: ep.Priority})
	}
	if len(endpoints) == 0 && cfg.BaseURL != "" {
		endpoints = append(endpoints, httptts.Endpoint{Name: cfg.Name, URL: cfg.BaseURL, Priority: 0})
	}

	var opts []httptts.Option
	if cfg.MaxAttempts > 0 {
		opts = append(opts, httptts.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.RetryBackoff > 0 {
		opts = append(opts, httptts.WithBackoff(cfg.RetryBackoff))
	}
	if len(cfg.Endpoints) > 0 {
		cb := cfg.Endpoints[0].CircuitBreaker
		if cb.MaxFailures > 0 || cb.ResetTimeout > 0 {
			opts = append(opts, httptts.WithCircuitBreaker(resilience.CircuitBreakerConfig{
				MaxFailures:  cb.MaxFailures,
				ResetTimeout: cb.ResetTimeout,
				HalfOpenMax:  cb.HalfOpenMax,
			}))
		}
	}

	dir, _ := cfg.Options["voice_dir"].(string)
	return httptts.New(fileVoiceStore{Dir: dir}, endpoints, opts...)
}

// ── Memory wiring ─────────────────────────────────────────────────────────────

// buildMemory constructs the memory Service over a pgvector-backed Index
// when a DSN is configured, returning a nil Service otherwise — the agent
// and context builder both treat a nil Memory as "no long-term memory".
func buildMemory(ctx context.Context, cfg *config.Config, providers *builtProviders) (*memory.Service, error) {
	if cfg.Memory.PostgresDSN == "" || providers.Embeddings == nil {
		slog.Warn("memory disabled: no postgres_dsn or embeddings provider configured")
		return nil, nil
	}
	dims := cfg.Memory.EmbeddingDimensions
	if dims <= 0 {
		dims = 1024
	}
	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, dims)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return memory.New(providers.Embeddings, store), nil
}

// ── Tool runtime wiring ───────────────────────────────────────────────────────

// buildToolRuntime registers the built-in tools permitted by cfg.Session.Tools
// (spec.md §4.7's "only tools named in the session's allow-list are
// registered"). An empty allow-list means every built-in is offered.
func buildToolRuntime(ctx context.Context, cfg *config.Config) (*toolruntime.Registry, *toolruntime.Executor, *mcphost.Host) {
	reg := toolruntime.NewRegistry()

	allowed := func(name string) bool {
		if len(cfg.Session.Tools) == 0 {
			return true
		}
		for _, t := range cfg.Session.Tools {
			if t == name {
				return true
			}
		}
		return false
	}

	register := func(name string, d toolruntime.Descriptor) {
		if !allowed(name) {
			return
		}
		if err := reg.Register(d); err != nil {
			slog.Warn("tool registration failed", "tool", name, "error", err)
		}
	}

	register("set_volume", builtins.NewSetVolume())
	register("end_conversation", builtins.NewEndConversation())
	register("extract_webpage", builtins.NewExtractWebpage())
	if cfg.Search.BaseURL != "" {
		register("search_web", builtins.NewSearchWeb(cfg.Search.BaseURL, cfg.Search.APIKey))
		register("search_news", builtins.NewSearchNews(cfg.Search.BaseURL, cfg.Search.APIKey))
	}

	host := registerMCPServers(ctx, cfg, register)

	return reg, toolruntime.NewExecutor(reg), host
}

// registerMCPServers connects to every configured MCP server, calibrates
// their measured latency, and registers each tool the current budget tier
// allows as a toolruntime.Descriptor backed by host.ExecuteTool. Returns nil
// if no MCP servers are configured so callers can skip the deferred Close.
func registerMCPServers(ctx context.Context, cfg *config.Config, register func(string, toolruntime.Descriptor)) *mcphost.Host {
	if len(cfg.MCP.Servers) == 0 {
		return nil
	}

	host := mcphost.New()
	for _, s := range cfg.MCP.Servers {
		err := host.RegisterServer(ctx, mcp.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			URL:       s.URL,
			Env:       s.Env,
		})
		if err != nil {
			slog.Warn("mcp server registration failed", "server", s.Name, "err", err)
		}
	}
	if err := host.Calibrate(ctx); err != nil {
		slog.Warn("mcp calibration failed", "err", err)
	}

	for _, def := range host.AvailableTools(cfg.Session.BudgetTier.ToMCP()) {
		name := def.Name
		register(name, toolruntime.Descriptor{
			Definition: def,
			Handler: func(ctx context.Context, jsonArgs string) (string, error) {
				result, err := host.ExecuteTool(ctx, name, jsonArgs)
				if err != nil {
					return "", err
				}
				if result.IsError {
					return "", fmt.Errorf("mcp tool %q: %s", name, result.Content)
				}
				return result.Content, nil
			},
		})
	}
	return host
}

// ── Context builder wiring ───────────────────────────────────────────────────

const defaultPromptTemplate = `You are a helpful voice assistant.

{{time_context}}

{{memory_context}}

{{conversation_context}}`

func buildContextBuilder(memSvc *memory.Service) *ctxbuilder.Builder {
	providers := []ctxbuilder.Provider{
		&ctxbuilder.TimeProvider{},
		&ctxbuilder.ConversationProvider{},
	}
	if memSvc != nil {
		providers = append(providers, &ctxbuilder.MemoryProvider{Service: memSvc})
	}
	return ctxbuilder.NewBuilder(defaultPromptTemplate, providers...)
}

// ── Per-connection session wiring ────────────────────────────────────────────

// newSessionFactory returns a conn.SessionFactory that wires a fresh
// Session, its InputPipeline, and the response pipeline's StreamRunner/
// BatchRunner/Sink for every newly accepted connection.
func newSessionFactory(cfg *config.Config, providers *builtProviders, ag *agent.Agent, memSvc *memory.Service) conn.SessionFactory {
	return func(id string, sink *pipeline.Sink) *session.Session {
		stream := &pipeline.StreamRunner{
			TTS:     providers.TTS,
			VoiceID: cfg.Session.Voice.VoiceID,
		}
		batch := &pipeline.BatchRunner{
			TTS:     providers.TTS,
			VoiceID: cfg.Session.Voice.VoiceID,
		}

		var wake *session.WakeWordClassifier
		if providers.LLM != nil {
			wake = &session.WakeWordClassifier{LLM: providers.LLM, WakeWord: cfg.Session.WakeWord}
		}

		sess := session.New(id, session.Config{
			WakeWord:           cfg.Session.WakeWord,
			DeactivationPhrase: cfg.Session.DeactivationPhrase,
			ActivationGreeting: cfg.Session.ActivationGreeting,
			FarewellText:       cfg.Session.FarewellText,
			VoiceID:            cfg.Session.Voice.VoiceID,
		}, session.Deps{
			Agent:  ag,
			Stream: stream,
			Batch:  batch,
			Sink:   sink,
			Wake:   wake,
			Memory: memSvc,
		})

		inputPipeline := session.NewInputPipeline(providers.STT, cfg.Session.WaitingForMoreTimeout, sess.HandleUtterance)
		sess.AttachPipeline(inputPipeline)
		return sess
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, providers *builtProviders) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voiced — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("S2S", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  Wake word       : %-19s ║\n", cfg.Session.WakeWord)
	fmt.Printf("║  Engine          : %-19s ║\n", cfg.Session.Engine)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
