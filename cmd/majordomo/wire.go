package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/majordomo/internal/agents"
	"github.com/nugget/majordomo/internal/calendar"
	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/connwatch"
	"github.com/nugget/majordomo/internal/dispatch"
	"github.com/nugget/majordomo/internal/email"
	"github.com/nugget/majordomo/internal/events"
	"github.com/nugget/majordomo/internal/homeassistant"
	"github.com/nugget/majordomo/internal/lights"
	"github.com/nugget/majordomo/internal/llm"
	"github.com/nugget/majordomo/internal/mqtt"
	"github.com/nugget/majordomo/internal/news"
	"github.com/nugget/majordomo/internal/pending"
	"github.com/nugget/majordomo/internal/router"
	"github.com/nugget/majordomo/internal/synth"
	"github.com/nugget/majordomo/internal/weather"
)

// app holds the assembled components and the resources to release.
type app struct {
	engine  *dispatch.Engine
	router  *router.Router
	caps    *capability.Registry
	pending *pending.Store
	bus     *events.Bus

	// probes are health checks for the external services in use.
	probes  map[string]connwatch.ProbeFunc
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// build assembles the engine from configuration. ctx bounds
// long-running background connections (MQTT).
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{bus: events.New(), probes: make(map[string]connwatch.ProbeFunc)}

	llmClient := createLLMClient(cfg, logger)
	a.probes["llm"] = llmClient.Ping

	caps, err := registerCapabilities(ctx, a, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.caps = caps

	store, err := openPendingStore(a, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pending = store

	a.router = router.NewRouter(logger.With("component", "router"), llmClient, router.Config{
		Model:   cfg.LLM.Classifier,
		Timeout: cfg.LLM.Timeout,
	})

	bindings := agents.ApplyOverrides(agents.Defaults(), cfg.Agents)
	agentReg, err := agents.NewRegistry(logger.With("component", "agents"), llmClient, caps, cfg.LLM.Default, cfg.LLM.Timeout, bindings)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("agents: %w", err)
	}

	synthesizer := synth.New(logger.With("component", "synth"), llmClient, cfg.LLM.Default, cfg.LLM.Timeout)

	a.engine, err = dispatch.New(logger.With("component", "dispatch"), dispatch.Deps{
		Router:            a.router,
		Agents:            agentReg,
		Capabilities:      caps,
		Synthesizer:       synthesizer,
		Pending:           store,
		Events:            a.bus,
		CapabilityTimeout: cfg.Capabilities.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// createLLMClient builds a multi-provider client. Models not listed in
// llm.models fall through to the OpenAI-compatible endpoint.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	log := logger.With("component", "llm")
	openaiClient := llm.NewOpenAIClient(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.APIKey, cfg.LLM.Temperature, log)

	multi := llm.NewMultiClient(openaiClient)
	multi.AddProvider("openai", openaiClient)

	if cfg.LLM.Ollama.Configured() {
		multi.AddProvider("ollama", llm.NewOllamaClient(cfg.LLM.Ollama.URL, cfg.LLM.Temperature, log))
	}
	if cfg.LLM.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.LLM.Anthropic.APIKey, cfg.LLM.Temperature, log))
	}

	for _, m := range cfg.LLM.Models {
		multi.AddModel(m.Name, m.Provider)
	}

	defaultProvider := "openai"
	for _, m := range cfg.LLM.Models {
		if m.Name == cfg.LLM.Default {
			defaultProvider = m.Provider
		}
	}
	logger.Info("LLM client initialized",
		"default_model", cfg.LLM.Default,
		"default_provider", defaultProvider,
		"providers", multi.Providers(),
	)
	return multi
}

// registerCapabilities binds every configured integration. Calendar
// and email are optional; agents drop capabilities that are missing.
func registerCapabilities(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) (*capability.Registry, error) {
	reg := capability.NewRegistry()

	ctrl, err := newLightController(ctx, a, cfg, logger)
	if err != nil {
		return nil, err
	}
	sw := lights.NewSwitch(ctrl, cfg.Lights.Devices, logger.With("component", "lights"))
	if err := reg.Register(capability.NewControlLights(cfg.Lights.Locations(), sw.Invoke)); err != nil {
		return nil, err
	}
	logger.Info("light control enabled", "backend", sw.Backend(), "locations", cfg.Lights.Locations())

	forecaster := weather.New(cfg.Weather, logger.With("component", "weather"))
	if err := reg.Register(capability.New(capability.GetWeatherForecast, forecaster.Invoke)); err != nil {
		return nil, err
	}

	compiler := news.New(cfg.News, logger.With("component", "news"))
	if err := reg.Register(capability.New(capability.CompileNewsReports, compiler.Invoke)); err != nil {
		return nil, err
	}

	if cfg.Calendar.Configured() {
		src, err := calendar.NewCalDAV(cfg.Calendar, logger.With("component", "calendar"))
		if err != nil {
			return nil, err
		}
		agenda := calendar.NewAgenda(src, cfg.Calendar.MaxEvents, logger.With("component", "calendar"))
		if err := reg.Register(capability.New(capability.GetDailyCalendar, agenda.Invoke)); err != nil {
			return nil, err
		}
		logger.Info("calendar enabled", "url", cfg.Calendar.URL)
	} else {
		logger.Info("calendar disabled (not configured)")
	}

	if cfg.Email.Configured() {
		client := email.NewClient(cfg.Email.IMAP, logger.With("component", "email"))
		a.closers = append(a.closers, client.Close)
		a.probes["imap"] = client.Ping
		inbox := email.NewInbox(client, cfg.Email.Folder, cfg.Email.Count, logger.With("component", "email"))
		if err := reg.Register(capability.New(capability.SummarizeRecentEmails, inbox.Invoke)); err != nil {
			return nil, err
		}
		logger.Info("email enabled", "host", cfg.Email.IMAP.Host, "folder", cfg.Email.Folder)
	} else {
		logger.Info("email disabled (not configured)")
	}

	reg.Freeze()
	return reg, nil
}

// newLightController selects the light backend. The choice is made
// once; a failing backend is never swapped at runtime.
func newLightController(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) (lights.Controller, error) {
	log := logger.With("component", "lights")
	switch cfg.Lights.Backend {
	case "hue":
		return lights.NewHue(cfg.Lights.Hue.BridgeIP, cfg.Lights.Hue.Username, log), nil
	case "homeassistant":
		ha := homeassistant.NewClient(cfg.Lights.HomeAssistant.URL, cfg.Lights.HomeAssistant.Token, log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ha.Ping(pingCtx); err != nil {
			log.Warn("Home Assistant not reachable at startup", "url", cfg.Lights.HomeAssistant.URL, "error", err)
		}
		a.probes["homeassistant"] = ha.Ping
		return lights.NewHomeAssistant(ha), nil
	case "mqtt":
		instanceID, err := mqtt.InstanceID(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("load mqtt instance id: %w", err)
		}
		pub := mqtt.New(cfg.Lights.MQTT, instanceID, log)
		if err := pub.Start(ctx); err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		a.closers = append(a.closers, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return pub.Stop(stopCtx)
		})
		a.probes["mqtt"] = pub.AwaitConnection
		return lights.NewMQTT(pub, cfg.Lights.MQTT.TopicPrefix), nil
	default:
		return lights.NewSimulated(log), nil
	}
}

// openPendingStore opens the configured pending-action backend.
func openPendingStore(a *app, cfg *config.Config, logger *slog.Logger) (*pending.Store, error) {
	var backend pending.Backend
	switch cfg.Pending.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Pending.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create pending directory: %w", err)
		}
		sb, err := pending.NewSQLiteBackend(cfg.Pending.Path)
		if err != nil {
			return nil, fmt.Errorf("open pending database %s: %w", cfg.Pending.Path, err)
		}
		a.closers = append(a.closers, sb.Close)
		logger.Info("pending database opened", "path", cfg.Pending.Path)
		backend = sb
	default:
		backend = pending.NewMemoryBackend()
	}
	return pending.NewStore(backend, pending.Options{
		TTL:          cfg.Pending.TTL,
		RequireToken: cfg.Pending.RequireToken,
	}, logger.With("component", "pending")), nil
}
