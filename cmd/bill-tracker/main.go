package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/bill-tracker/internal/bill"
	"github.com/zombor/bill-tracker/internal/extraction"
	"github.com/zombor/bill-tracker/internal/scanning"
	"github.com/zombor/bill-tracker/internal/settings"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("bill-tracker")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "bill-tracker.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./bills", "Storage directory for bill photos and payment proofs")
		generatorType  = fs.StringLong("generator", "gemini", "Generative AI provider: 'gemini', 'ollama' or 'openai'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		openaiKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel    = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openaiURL      = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL (optional)")
		ocrType        = fs.StringLong("ocr", "none", "OCR engine for the secondary scan: 'none', 'tesseract' or 'vision'")
		ocrLang        = fs.StringLong("ocr-lang", "ind+eng", "Tesseract languages, '+' separated")
		visionCreds    = fs.StringLong("vision-credentials", "", "Google Cloud Vision credentials JSON file (optional)")
		callTimeout    = fs.IntLong("call-timeout", 30, "Timeout in seconds for each OCR or AI call")
		batchWorkers   = fs.IntLong("batch-workers", extraction.DefaultBatchWorkers, "Concurrent extractions for batch uploads")
		promptTransfer = fs.StringLong("prompt-transfer", "", "Transfer proof prompt (optional, settings override it)")
		promptBill     = fs.StringLong("prompt-bill", "", "Bill photo prompt (optional, settings override it)")
		promptFallback = fs.StringLong("prompt-fallback", "", "Fallback prompt (optional, settings override it)")
		promptBillText = fs.StringLong("prompt-bill-text", "", "Bill description prompt (optional, settings override it)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := bill.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := settings.NewBoltStore(db.Handle())
	if err != nil {
		slog.Error("Failed to initialize settings", "error", err)
		os.Exit(1)
	}

	var generator scanning.Generator
	switch *generatorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini generator...", "model", *geminiModel)
		if settings.String(store, settings.GeminiAPIKey, apiKey) == "" {
			slog.Warn("No Gemini API key configured, extraction fails until gemini_api_key is set")
		}
		generator, err = scanning.NewGemini(apiKey, *geminiModel, store)
	case "ollama":
		slog.Info("Initializing Ollama generator...", "url", *ollamaURL, "model", *ollamaModel)
		generator, err = scanning.NewOllama(*ollamaURL, *ollamaModel, store)
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI generator...", "model", *openaiModel, "url", *openaiURL)
		if settings.String(store, settings.OpenAIAPIKey, apiKey) == "" {
			slog.Warn("No OpenAI API key configured, extraction fails until openai_api_key is set")
		}
		generator, err = scanning.NewOpenAI(apiKey, *openaiModel, *openaiURL, store)
	default:
		slog.Error("Invalid generator type", "type", *generatorType, "valid", "gemini, ollama or openai")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize generator", "type", *generatorType, "error", err)
		os.Exit(1)
	}
	defer generator.Close()

	var ocr scanning.OCR
	switch *ocrType {
	case "none", "":
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...", "languages", *ocrLang)
		ocr = scanning.NewTesseract(strings.Split(*ocrLang, "+")...)
	case "vision":
		slog.Info("Initializing Google Cloud Vision OCR...")
		ocr, err = scanning.NewVision(ctx, *visionCreds)
		if err != nil {
			slog.Error("Failed to initialize Vision", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR type", "type", *ocrType, "valid", "none, tesseract or vision")
		os.Exit(1)
	}
	if ocr != nil {
		defer ocr.Close()
	}

	slog.Info("Initializing storage...", "path", *storagePath)
	files, err := bill.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	cfg := extraction.Config{
		CallTimeout:  time.Duration(*callTimeout) * time.Second,
		BatchWorkers: *batchWorkers,
	}
	prompts := extraction.NewPrompts(settings.Chain{store, settings.Map{
		settings.PromptTransfer: *promptTransfer,
		settings.PromptBill:     *promptBill,
		settings.PromptFallback: *promptFallback,
		settings.PromptBillText: *promptBillText,
	}})
	orchestrator := extraction.NewOrchestrator(generator, ocr, prompts, cfg)
	parser := extraction.NewBillTextExtractor(generator, prompts, cfg)

	service := bill.NewService(db, orchestrator, parser, files)
	server := bill.NewServer(service, store, bill.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
	}
}
