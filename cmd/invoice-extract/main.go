package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-extractor/internal/api"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/ingest"
	"github.com/zombor/invoice-extractor/internal/ledger"
	"github.com/zombor/invoice-extractor/internal/nlsql"
	"github.com/zombor/invoice-extractor/internal/store"
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

	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	fs := ff.NewFlagSet("invoice-extract")
	var (
		port = fs.IntLong("port", 8080, "HTTP server port")

		dbDriver           = fs.StringLong("db-driver", store.DriverPostgres, "Database driver: 'postgres' or 'sqlite'")
		dbHost             = fs.StringLong("db-host", "localhost", "Database host")
		dbPort             = fs.StringLong("db-port", "5432", "Database port")
		dbUser             = fs.StringLong("db-user", "", "Database user")
		dbPassword         = fs.StringLong("db-password", "", "Database password")
		dbName             = fs.StringLong("db-name", "invoices", "Database name, or file path for sqlite")
		dbSSLMode          = fs.StringLong("db-sslmode", "disable", "Postgres sslmode")
		dbURL              = fs.StringLong("db-url", "", "Postgres connection URL; overrides the other db flags")
		dbPooled           = fs.BoolLong("db-pooled", "Keep a shared connection pool instead of a connection per operation")
		dbMaxOpen          = fs.IntLong("db-max-open", 10, "Maximum open connections in pooled mode")
		dbConnectTimeout   = fs.DurationLong("db-connect-timeout", store.DefaultConnectTimeout, "Time allowed to establish a connection")
		dbStatementTimeout = fs.DurationLong("db-statement-timeout", store.DefaultStatementTimeout, "Time allowed for one batch or query")
		dbDebug            = fs.BoolLong("db-debug", "Log every SQL statement")

		extractorType = fs.StringLong("extractor", "gemini", "Extractor: 'gemini', 'vertex' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GOOGLE_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Gemini model used for extraction")
		sqlModel      = fs.StringLong("sql-model", "gemini-2.5-flash", "Gemini model used to answer questions with SQL")
		vertexProject = fs.StringLong("vertex-project", "", "GCP project for Vertex AI")
		vertexRegion  = fs.StringLong("vertex-region", "us-central1", "Vertex AI region")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "qwen2.5vl:7b", "Ollama vision model name")
		maxImageDim   = fs.IntLong("max-image-dim", extraction.DefaultMaxImageDimension, "Longest image side sent to the model, 0 to disable")

		storagePath = fs.StringLong("storage", "./invoices", "Directory where uploaded invoices are archived")
		gcsBucket   = fs.StringLong("gcs-bucket", "", "Archive invoices in this Cloud Storage bucket instead of --storage")
		gcsPrefix   = fs.StringLong("gcs-prefix", "invoices", "Object prefix inside --gcs-bucket")
		ledgerPath  = fs.StringLong("ledger", "invoice-ledger.db", "Processed file ledger path")

		ingestDir = fs.StringLong("ingest", "", "Process every invoice in this folder and exit instead of serving HTTP")
		workers   = fs.IntLong("workers", 4, "Invoices processed at once by --ingest")

		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_EXTRACT"),
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

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}

	// Initialize database
	slog.Info("Initializing database...")
	connector, err := store.NewConnector(store.Config{
		Driver:           *dbDriver,
		Host:             *dbHost,
		Port:             *dbPort,
		User:             *dbUser,
		Password:         *dbPassword,
		Database:         *dbName,
		SSLMode:          *dbSSLMode,
		URL:              *dbURL,
		Pooled:           *dbPooled,
		MaxOpenConns:     *dbMaxOpen,
		ConnectTimeout:   *dbConnectTimeout,
		StatementTimeout: *dbStatementTimeout,
		Debug:            *dbDebug,
	})
	if err != nil {
		slog.Error("Invalid database configuration", "error", err)
		os.Exit(1)
	}
	defer connector.Close()

	if err := store.Migrate(ctx, connector); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize extractor based on type
	var extractor extraction.Extractor
	switch *extractorType {
	case "gemini":
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GOOGLE_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = extraction.NewGemini(apiKey, *geminiModel, *maxImageDim)
	case "vertex":
		slog.Info("Initializing Vertex AI extractor...", "project", *vertexProject, "region", *vertexRegion, "model", *geminiModel)
		extractor, err = extraction.NewVertex(ctx, *vertexProject, *vertexRegion, *geminiModel, *maxImageDim)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = extraction.NewOllama(*ollamaURL, *ollamaModel, *maxImageDim)
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini, vertex or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize extractor", "type", *extractorType, "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	var storage ingest.Storage
	if *gcsBucket != "" {
		gcs, err := ingest.NewGCSStorage(ctx, *gcsBucket, *gcsPrefix)
		if err != nil {
			slog.Error("Failed to initialize storage", "bucket", *gcsBucket, "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		storage = gcs
	} else {
		storage, err = ingest.NewLocalStorage(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
	}

	processed, err := ledger.Open(*ledgerPath)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer processed.Close()

	service := ingest.NewService(extractor, store.NewWriter(connector), storage, processed)
	service.SetWorkers(*workers)

	if *ingestDir != "" {
		summary, err := service.ProcessDir(ctx, *ingestDir)
		if err != nil {
			slog.Error("Failed to process directory", "dir", *ingestDir, "error", err)
			os.Exit(1)
		}
		for _, fe := range summary.Errors {
			slog.Error("Invoice not stored", "filename", fe.Filename, "error", fe.Error)
		}
		if summary.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	var generator nlsql.Generator
	if apiKey != "" {
		generator, err = nlsql.NewGemini(apiKey, *sqlModel)
		if err != nil {
			slog.Error("Failed to initialize SQL generator", "error", err)
			os.Exit(1)
		}
		defer generator.Close()
	} else {
		slog.Warn("No Gemini API key, /api/ask is disabled")
	}

	basicAuth := api.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := api.NewServer(api.Deps{
		Processor: service,
		Querier:   store.NewReader(connector),
		Generator: generator,
		Ledger:    processed,
		Pinger:    connector,
	}, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
}
