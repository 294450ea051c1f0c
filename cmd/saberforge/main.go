package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"saberforge/internal/batch"
	"saberforge/internal/beatsage"
	"saberforge/internal/config"
	"saberforge/internal/console"
	"saberforge/internal/credentials"
	"saberforge/internal/history"
	"saberforge/internal/metadata"
	"saberforge/internal/pipeline"
)

func main() {
	logger := log.New(os.Stdout, "saberforge ", log.LstdFlags|log.Lmsgprefix)

	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	var (
		inputDir     = flag.String("input", "", "folder containing audio files (required)")
		outputDir    = flag.String("output", "", "folder for generated maps (defaults to the input folder)")
		difficulties = flag.String("difficulties", "", "comma-separated difficulties: Hard,Expert,ExpertPlus,Normal")
		modes        = flag.String("modes", "", "comma-separated modes: Standard,90Degree,NoArrows,OneSaber")
		events       = flag.String("events", "", "comma-separated events: DotBlocks,Obstacles,Bombs")
		environment  = flag.String("environment", "", "map environment name")
		modelTag     = flag.String("model-tag", "", "model version: v1, v2, v2-flow")
		configPath   = flag.String("config", "", "path to a YAML config file")
		cookieFile   = flag.String("cookie-file", "", "file with session cookies, one name=value per line")
		watch        = flag.Bool("watch", false, "keep watching the input folder for new files")
		noHistory    = flag.Bool("no-history", false, "do not record outcomes in the history ledger")
		noColor      = flag.Bool("no-color", false, "disable colored output")
	)
	flag.Parse()

	// A single bare argument is treated as the input folder, matching the
	// common "point it at a directory" invocation.
	if *inputDir == "" && flag.NArg() == 1 {
		*inputDir = flag.Arg(0)
	}
	if *inputDir == "" {
		fmt.Fprintln(os.Stderr, "an input folder is required")
		flag.Usage()
		os.Exit(1)
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}
	applyFlag(&settings.Difficulties, *difficulties)
	applyFlag(&settings.Modes, *modes)
	applyFlag(&settings.Events, *events)
	applyFlag(&settings.Environment, *environment)
	applyFlag(&settings.ModelTag, *modelTag)
	applyFlag(&settings.CookieFile, *cookieFile)

	info, err := os.Stat(*inputDir)
	if err != nil || !info.IsDir() {
		logger.Fatalf("input directory does not exist: %s", *inputDir)
	}
	if *outputDir == "" {
		*outputDir = *inputDir
	} else if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatalf("create output directory: %v", err)
	}

	session, err := buildSession(settings.CookieFile)
	if err != nil {
		logger.Fatalf("obtain session credentials: %v", err)
	}
	if session.IsAnonymous() {
		logger.Printf("no session cookies configured, uploading anonymously")
	}

	client, err := beatsage.NewClient(settings.BaseURL, session)
	if err != nil {
		logger.Fatalf("initialise service client: %v", err)
	}

	color := !*noColor && console.StdoutSupportsColor()
	printer := console.NewPrinter(os.Stdout, color)

	reader := metadata.Reader{}
	pipe := pipeline.New(reader, client, pipeline.Options{
		Difficulties:    settings.Difficulties,
		Modes:           settings.Modes,
		Events:          settings.Events,
		Environment:     settings.Environment,
		ModelTag:        settings.ModelTag,
		PollInterval:    settings.PollInterval,
		MaxPollAttempts: settings.MaxPollAttempts,
		MaxUploadBytes:  settings.MaxUploadBytes,
		MaxDuration:     settings.MaxDuration,
		OnState:         printer.Stage,
	}, logger)

	var recorder history.Recorder = history.Nop{}
	if !*noHistory {
		historyPath, err := config.ResolveHistoryPath(settings.HistoryPath)
		if err != nil {
			logger.Fatalf("resolve history path: %v", err)
		}
		store, err := history.Open(historyPath)
		if err != nil {
			logger.Fatalf("open history ledger: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Printf("error closing history ledger: %v", err)
			}
		}()
		recorder = store
	}

	runner := batch.New(pipe, batch.Namer{Reader: reader}, recorder, printer, config.AllowedExtensions(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch {
		err := runner.Watch(ctx, *inputDir, *outputDir, settings.WatchDebounce)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatalf("watch failed: %v", err)
		}
		logger.Println("watch stopped")
		return
	}

	summary, err := runner.Run(ctx, *inputDir, *outputDir)
	if err != nil {
		logger.Fatalf("batch aborted: %v", err)
	}
	printer.Summary(summary.Processed, summary.Skipped, summary.Failed)
}

// buildSession assembles the credential chain: an explicitly configured
// cookie file wins, then the SABERFORGE_COOKIE environment variable, then
// an anonymous session.
func buildSession(cookieFile string) (credentials.SessionContext, error) {
	chain := credentials.Chain{}
	if cookieFile != "" {
		chain = append(chain, credentials.FileSource{Path: cookieFile})
	}
	chain = append(chain, credentials.EnvSource{Key: "SABERFORGE_COOKIE"})
	return chain.SessionContext()
}

func applyFlag(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
