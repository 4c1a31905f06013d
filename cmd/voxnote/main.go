// Command voxnote is the main entry point for the Voxnote transcription bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dimakhov/voxnote/internal/bot"
	"github.com/dimakhov/voxnote/internal/config"
	"github.com/dimakhov/voxnote/internal/media"
	"github.com/dimakhov/voxnote/internal/messenger"
	"github.com/dimakhov/voxnote/internal/messenger/discord"
	"github.com/dimakhov/voxnote/internal/observe"
	"github.com/dimakhov/voxnote/internal/pipeline"
	"github.com/dimakhov/voxnote/internal/resilience"
	"github.com/dimakhov/voxnote/internal/store"
	"github.com/dimakhov/voxnote/pkg/provider/llm"
	"github.com/dimakhov/voxnote/pkg/provider/llm/anyllm"
	oaillm "github.com/dimakhov/voxnote/pkg/provider/llm/openai"
	"github.com/dimakhov/voxnote/pkg/provider/stt"
	"github.com/dimakhov/voxnote/pkg/provider/stt/deepgram"
	"github.com/dimakhov/voxnote/pkg/provider/stt/fireworks"
	oaistt "github.com/dimakhov/voxnote/pkg/provider/stt/openai"
	"github.com/dimakhov/voxnote/pkg/provider/stt/whisper"
)

const (
	defaultSystemPrompt = "Summarize the transcript. Keep the key points, names, numbers and action items."
	defaultTitlePrompt  = "Write a short title (at most eight words) for the transcript. Reply with the title only."
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxnote: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxnote: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxnote starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────────
	st, err := store.NewPostgres(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer st.Close()
	slog.Info("database ready")

	// ── Provider chains ───────────────────────────────────────────────────────
	sttChain, closers, err := buildSTTChain(cfg, newRecorder(st, metrics, "stt"))
	if err != nil {
		slog.Error("failed to build STT providers", "err", err)
		return 1
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}()

	llmChain, err := buildLLMChain(cfg, newRecorder(st, metrics, "llm"))
	if err != nil {
		slog.Error("failed to build LLM providers", "err", err)
		return 1
	}

	// ── Media layer ───────────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.Media.WorkDir, 0o755); err != nil {
		slog.Error("failed to create work dir", "dir", cfg.Media.WorkDir, "err", err)
		return 1
	}
	var dlOpts []media.DownloaderOption
	if cfg.Media.MaxFileSizeBytes > 0 {
		dlOpts = append(dlOpts, media.WithMaxSize(cfg.Media.MaxFileSizeBytes))
	}
	downloader := media.NewDownloader(dlOpts...)
	preparer := media.NewPreparer(media.NewConverter(cfg.Media.FFmpegBin))

	// ── Pipeline ──────────────────────────────────────────────────────────────
	policy := cfg.Policy()
	systemPrompt := cfg.Summary.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	titlePrompt := cfg.Summary.TitlePrompt
	if titlePrompt == "" {
		titlePrompt = defaultTitlePrompt
	}
	summarizer := pipeline.NewSummarizer(llmChain, systemPrompt, titlePrompt,
		cfg.Summary.DefaultModels, cfg.Summary.TitleModels)
	transcriber := pipeline.NewTranscriber(sttChain, policy)

	// ── Discord ───────────────────────────────────────────────────────────────
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create discord session", "err", err)
		return 1
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	adapter := discord.New(session)
	orch := pipeline.New(adapter, st, downloader, preparer, transcriber, summarizer,
		policy, metrics, cfg.Media.WorkDir)
	b := bot.New(adapter, st, orch, metrics)

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		sub := discord.Normalize(m)
		if sub == nil {
			return
		}
		go func() {
			if err := b.HandleSubmission(ctx, *sub); err != nil {
				slog.Error("submission rejected", "channel", sub.ChatID, "err", err)
			}
		}()
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionMessageComponent {
			return
		}
		ack := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
		if err := s.InteractionRespond(i.Interaction, ack); err != nil {
			slog.Warn("interaction ack failed", "err", err)
		}
		userID := interactionUserID(i)
		if userID == "" || i.Message == nil {
			return
		}
		ref := messengerRef(i.ChannelID, i.Message.ID)
		go b.HandleAction(ctx, i.MessageComponentData().CustomID, discord.PlatformName, userID, ref)
	})

	if err := session.Open(); err != nil {
		slog.Error("failed to open discord session", "err", err)
		return 1
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}()
	slog.Info("discord connected")

	// ── Metrics endpoint + lifecycle ──────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("voxnote ready — press Ctrl+C to shut down")
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newRecorder feeds every provider attempt into metrics and the usage log.
// Usage writes are fire-and-forget; attempts are not attributed to a session
// because one chain recorder serves all concurrent jobs.
func newRecorder(st store.Store, metrics *observe.Metrics, kind string) resilience.Recorder {
	return func(a resilience.Attempt) {
		ctx := context.Background()
		status := "ok"
		if !a.Succeeded() {
			status = "failed"
			metrics.RecordProviderError(ctx, a.Provider, kind)
		}
		metrics.RecordProviderRequest(ctx, a.Provider, kind, status)

		attempt := &store.ProviderAttempt{
			SessionID:  uuid.Nil,
			Capability: kind,
			Provider:   a.Provider,
			Model:      a.Model,
			Success:    a.Succeeded(),
			Duration:   a.Duration,
		}
		if a.Err != nil {
			attempt.Error = a.Err.Error()
		}
		go func() {
			if err := st.Usage().Record(ctx, attempt); err != nil {
				slog.Debug("usage record failed", "provider", a.Provider, "err", err)
			}
		}()
	}
}

// buildSTTChain instantiates every configured STT vendor and registers it
// under its config name. Providers holding resources (whisper's model) are
// returned for closing on shutdown.
func buildSTTChain(cfg *config.Config, rec resilience.Recorder) (*resilience.Chain[stt.Provider], []io.Closer, error) {
	chain := resilience.NewChain[stt.Provider](rec)
	var closers []io.Closer

	for _, entry := range cfg.Providers.STT {
		var (
			p   stt.Provider
			err error
		)
		switch entry.Name {
		case "deepgram":
			var opts []deepgram.Option
			if entry.Model != "" {
				opts = append(opts, deepgram.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
			}
			p, err = deepgram.New(entry.APIKey, opts...)
		case "fireworks":
			var opts []fireworks.Option
			if entry.Model != "" {
				opts = append(opts, fireworks.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, fireworks.WithBaseURL(entry.BaseURL))
			}
			p, err = fireworks.New(entry.APIKey, opts...)
		case "openai":
			var opts []oaistt.Option
			if entry.Model != "" {
				opts = append(opts, oaistt.WithModel(entry.Model))
			}
			if entry.BaseURL != "" {
				opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
			}
			p, err = oaistt.New(entry.APIKey, opts...)
		case "whisper":
			var wp *whisper.Provider
			wp, err = whisper.New(entry.ModelPath)
			if err == nil {
				closers = append(closers, wp)
				p = wp
			}
		default:
			err = fmt.Errorf("unknown STT provider %q", entry.Name)
		}
		if err != nil {
			return nil, closers, fmt.Errorf("stt %q: %w", entry.Name, err)
		}
		chain.Register(entry.Name, modelLabel(entry), p)
	}
	return chain, closers, nil
}

// buildLLMChain instantiates every configured LLM vendor. Entries register
// under their model name so user preferences and the summary ordering can
// address a specific model.
func buildLLMChain(cfg *config.Config, rec resilience.Recorder) (*resilience.Chain[llm.Provider], error) {
	chain := resilience.NewChain[llm.Provider](rec)

	for _, entry := range cfg.Providers.LLM {
		var (
			p   llm.Provider
			err error
		)
		switch entry.Name {
		case "openai":
			var opts []oaillm.Option
			if entry.BaseURL != "" {
				opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
			}
			p, err = oaillm.New(entry.APIKey, entry.Model, opts...)
		case "groq", "anthropic":
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err = anyllm.New(entry.Name, entry.Model, opts...)
		default:
			err = fmt.Errorf("unknown LLM provider %q", entry.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("llm %q: %w", entry.Name, err)
		}

		name := entry.Model
		if name == "" {
			name = entry.Name
		}
		chain.Register(name, modelLabel(entry), p)
	}
	return chain, nil
}

func modelLabel(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Model
	}
	return entry.Name
}

func messengerRef(chatID, messageID string) messenger.MessageRef {
	return messenger.MessageRef{Platform: discord.PlatformName, ChatID: chatID, MessageID: messageID}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
