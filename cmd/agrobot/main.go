// ABOUTME: Entry point for the agrobot conversation server
// ABOUTME: Wires the webhook gateway, dialogue engine, dispatcher, and console

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/campoverde/agrobot/internal/alerts"
	"github.com/campoverde/agrobot/internal/collab"
	"github.com/campoverde/agrobot/internal/config"
	"github.com/campoverde/agrobot/internal/console"
	"github.com/campoverde/agrobot/internal/dedupe"
	"github.com/campoverde/agrobot/internal/dialog"
	"github.com/campoverde/agrobot/internal/dispatch"
	"github.com/campoverde/agrobot/internal/feed"
	"github.com/campoverde/agrobot/internal/gateway"
	"github.com/campoverde/agrobot/internal/handoff"
	"github.com/campoverde/agrobot/internal/metrics"
	"github.com/campoverde/agrobot/internal/session"
	"github.com/campoverde/agrobot/internal/store"
	"github.com/campoverde/agrobot/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                         _           _
   __ _  __ _ _ __ ___ | |__   ___ | |_
  / _' |/ _' | '__/ _ \| '_ \ / _ \| __|
 | (_| | (_| | | | (_) | |_) | (_) | |_
  \__,_|\__, |_|  \___/|_.__/ \___/ \__|
        |___/
`

// getConfigPath returns the path to the agrobot config file.
// Priority: AGROBOT_CONFIG env var > XDG_CONFIG_HOME/agrobot/config.yaml > ~/.config/agrobot/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGROBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agrobot", "config.yaml")
}

// getDataPath returns the path to the agrobot data directory.
// Priority: XDG_DATA_HOME/agrobot > ~/.local/share/agrobot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "agrobot")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agrobot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the conversation server")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	// Secrets referenced as ${VAR} in the config usually live in .env
	// during development.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Webhook:  %s\n", cfg.Webhook.Path)
	if cfg.Console.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Console:  /console/api")
	}
	fmt.Println()

	logger.Info("starting agrobot",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	m := metrics.New()

	repo, err := session.NewFileRepository(cfg.Sessions.Dir, cfg.Sessions.TTL, logger)
	if err != nil {
		return fmt.Errorf("opening session repository: %w", err)
	}

	ledger, err := store.NewSQLiteLedger(cfg.Sessions.LedgerPath, logger)
	if err != nil {
		return fmt.Errorf("opening message ledger: %w", err)
	}
	defer ledger.Close()

	quotes, err := collab.NewQuoteService(cfg.Quotes.PriceList, cfg.Quotes.OutputDir)
	if err != nil {
		return fmt.Errorf("loading price list: %w", err)
	}

	var crm collab.CRM = collab.DisabledCRM{}
	if cfg.CRM.Enabled {
		crm = collab.NewHTTPCRM(cfg.CRM.BaseURL, cfg.CRM.Token, logger)
	}

	var answerer collab.Answerer = collab.NoAnswerer{}
	if cfg.AI.Enabled {
		answerer = collab.NewOpenAIAnswerer(cfg.AI.APIKey, cfg.AI.Model, logger)
	}

	alertsPub := alerts.NewFallback(logger)
	if cfg.Alerts.Enabled {
		pub, err := alerts.New(cfg.Alerts.URL, cfg.Alerts.Exchange, logger)
		if err != nil {
			logger.Warn("alert broker unavailable, alerts degrade to logs", "error", err)
		} else {
			alertsPub = pub
		}
	}
	defer alertsPub.Close()

	arbiter := handoff.New(cfg.Handoff.AlertCooldown)
	broadcaster := feed.NewBroadcaster(logger)
	defer broadcaster.Close()

	engine := dialog.New(dialog.Config{
		FreshnessWindow: cfg.Dialog.FreshnessWindow,
		HandoffDuration: cfg.Handoff.Duration,
		CurrentCampaign: cfg.Dialog.CurrentCampaign,
		SmartAnswers:    cfg.AI.Enabled && cfg.Dialog.SmartAnswers,
	}, arbiter, quotes, crm, answerer, alertsPub, logger)

	sender := transport.NewWhatsAppClient(
		cfg.Transport.BaseURL, cfg.Transport.PhoneNumberID, cfg.Transport.AccessToken, logger)

	// The gateway and dispatcher reference each other through the
	// delivery callback; the closure breaks the construction cycle.
	var gw *gateway.Gateway
	dispatcher := dispatch.New(sender, cfg.Dispatcher.MinDelay, func(job dispatch.Job, ok bool) {
		gw.OnSent(job, ok)
	}, logger)
	defer dispatcher.Close()

	gw = gateway.New(gateway.Config{
		VerifyToken:     cfg.Webhook.VerifyToken,
		HandoffDuration: cfg.Handoff.Duration,
	}, repo, dedupe.New(cfg.Dedupe.MaxEntries), engine, dispatcher, arbiter,
		ledger, broadcaster, crm, m, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.Webhook.Path, gw.VerifyHandler())
	mux.HandleFunc("POST "+cfg.Webhook.Path, gw.WebhookHandler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Console.Enabled {
		mux.Handle("/console/api/", console.New(gw, cfg.Console.Token, logger).Routes())
	}
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sessions.SweepSchedule, func() {
		gw.SweepSessions(time.Now())
	}); err != nil {
		return fmt.Errorf("scheduling session sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:        cfg.Server.HTTPAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the console feed socket is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("agrobot configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":8080")

	fmt.Println("\n--- Channel Configuration ---")
	baseURL := prompt(reader, "Graph API base URL", "https://graph.facebook.com/v20.0")
	phoneNumberID := prompt(reader, "Phone number id", "")
	verifyToken := prompt(reader, "Webhook verify token", "")

	fmt.Println("\n--- Storage Configuration ---")
	sessionsDir := prompt(reader, "Sessions directory", filepath.Join(defaultDataPath, "sessions"))
	priceList := prompt(reader, "Price list YAML", filepath.Join(defaultDataPath, "precios.yaml"))

	fmt.Println("\n--- Console Configuration ---")
	consoleToken := prompt(reader, "Console token (empty to disable)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# agrobot configuration\n")
	cfg.WriteString("# Generated by agrobot init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n\n", httpAddr))

	cfg.WriteString("webhook:\n")
	cfg.WriteString("  path: /webhook\n")
	cfg.WriteString(fmt.Sprintf("  verify_token: \"%s\"\n\n", verifyToken))

	cfg.WriteString("transport:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	cfg.WriteString(fmt.Sprintf("  phone_number_id: \"%s\"\n", phoneNumberID))
	cfg.WriteString("  access_token: ${WHATSAPP_ACCESS_TOKEN}\n\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString(fmt.Sprintf("  dir: \"%s\"\n", sessionsDir))
	cfg.WriteString("  ttl: \"12h\"\n\n")

	cfg.WriteString("quotes:\n")
	cfg.WriteString(fmt.Sprintf("  price_list: \"%s\"\n\n", priceList))

	cfg.WriteString("console:\n")
	if consoleToken != "" {
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n\n", consoleToken))
	} else {
		cfg.WriteString("  enabled: false\n\n")
	}

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Set WHATSAPP_ACCESS_TOKEN in the environment or a .env file before serving.")
	return nil
}

func prompt(reader *bufio.Reader, label, fallback string) string {
	if fallback != "" {
		fmt.Printf("%s [%s]: ", label, fallback)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}
