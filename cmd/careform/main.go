package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/elin-hagberg/careform/internal/api"
	"github.com/elin-hagberg/careform/internal/batch"
	"github.com/elin-hagberg/careform/internal/config"
	"github.com/elin-hagberg/careform/internal/eval"
	"github.com/elin-hagberg/careform/internal/extractor"
	"github.com/elin-hagberg/careform/internal/notify"
	"github.com/elin-hagberg/careform/internal/openai"
	"github.com/elin-hagberg/careform/internal/pipeline"
	"github.com/elin-hagberg/careform/internal/store"
	"github.com/elin-hagberg/careform/internal/survey"
	"github.com/elin-hagberg/careform/internal/transcriber"
)

var (
	cfgFile string
	cfg     config.Config

	// process flags
	sentencesFlag int
	overlapFlag   int
	resetLog      bool

	// eval flags
	referenceFlag string
	ignoreIDs     []string
	blankIDs      []string
	checkIDs      []string
)

var rootCmd = &cobra.Command{
	Use:   "careform",
	Short: "AI-assisted survey filling from care interview recordings",
	Long: `careform transcribes leaving-care interviews, walks the transcript in
overlapping sentence windows, and fills a survey by repeatedly querying a
language model. Answers are kept in a durable store where human reviewers
can correct them; corrected questions are never asked again.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
		cfg = config.Load()
		if cfgFile != "" {
			if err := cfg.ApplyFile(cfgFile); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("sentences") {
			cfg.SentencesPerChunk = sentencesFlag
		}
		if cmd.Flags().Changed("overlap") {
			cfg.OverlapSentences = overlapFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		setupLogging(cfg.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

var processCmd = &cobra.Command{
	Use:   "process <recording, transcript or directory>",
	Short: "Process an interview and fill the survey",
	Long: `Process one interview recording or transcript through the survey
pipeline. Given a directory, every recording and transcript in it is
processed in name order; progress is checkpointed so an interrupted run
resumes where it stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context(), args[0])
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the answer set for review and human correction",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval <recording or transcript>",
	Short: "Run the pipeline from a clean slate and score it against reference answers",
	Long: `Evaluate a chunking configuration end to end: clear any stored answers
and chunk telemetry, process the interview through the pipeline, then score
the resulting answer set against a human reference and record the outcome
in the results log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEval(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file overlaying the environment")
	rootCmd.PersistentFlags().IntVar(&sentencesFlag, "sentences", 10, "sentences per chunk")
	rootCmd.PersistentFlags().IntVar(&overlapFlag, "overlap", 2, "sentences shared between consecutive chunks")

	processCmd.Flags().BoolVar(&resetLog, "reset-log", false, "truncate the chunk telemetry log before the run")

	evalCmd.Flags().StringVar(&referenceFlag, "reference", "", "reference answers file (defaults to CAREFORM_REFERENCE)")
	evalCmd.Flags().StringSliceVar(&ignoreIDs, "ignore", nil, "question ids excluded from scoring")
	evalCmd.Flags().StringSliceVar(&blankIDs, "blank", nil, "question ids that must stay unanswered")
	evalCmd.Flags().StringSliceVar(&checkIDs, "check", nil, "question ids compared against the reference")

	rootCmd.AddCommand(processCmd, serveCmd, evalCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runProcess(ctx context.Context, path string) error {
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	s, err := survey.LoadCSV(cfg.SurveyPath)
	if err != nil {
		return fmt.Errorf("load survey: %w", err)
	}
	slog.Info("survey loaded", "path", cfg.SurveyPath, "questions", len(s.Questions))

	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.TranscribeModel)
	if cfg.OpenAIBaseURL != "" {
		llm.SetBaseURL(cfg.OpenAIBaseURL)
	}

	st, cleanup, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, err := openPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	recorder := eval.NewRecorder(cfg.ChunkLogPath, cfg.ResultsPath)
	if resetLog {
		if err := recorder.ResetChunkLog(); err != nil {
			return err
		}
	}
	runner := pipeline.New(extractor.New(llm, slog.Default()), st, recorder, publisher, slog.Default())

	processFile := func(ctx context.Context, path string) (int, int, error) {
		transcript, err := transcriber.ForPath(path, llm, slog.Default()).Transcribe(ctx, path)
		if err != nil {
			return 0, 0, err
		}
		stats, err := runner.Run(ctx, transcript, pipeline.Params{
			SentencesPerChunk: cfg.SentencesPerChunk,
			OverlapSentences:  cfg.OverlapSentences,
		})
		if err != nil {
			return 0, 0, err
		}
		return stats.TotalChunks, stats.FailedChunks, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var chunks, failed int
	if info.IsDir() {
		state, err := batch.NewRunner(processFile, slog.Default()).Run(ctx, path)
		if err != nil {
			return err
		}
		chunks, failed = state.ChunksProcessed, state.ChunksFailed
	} else {
		chunks, failed, err = processFile(ctx, path)
		if err != nil {
			return err
		}
	}
	if chunks == 0 {
		slog.Warn("nothing to process", "path", path)
		return nil
	}

	summary, err := recorder.Summarize(cfg.SentencesPerChunk, cfg.OverlapSentences, chunks)
	if err != nil {
		return fmt.Errorf("summarize run: %w", err)
	}
	slog.Info("run complete",
		"chunks", chunks,
		"failed", failed,
		"rtt_trimmed_mean", summary.RTTTrimmedMean,
		"total_retries", summary.TotalRetries)
	return nil
}

func runServe(ctx context.Context) error {
	s, err := survey.LoadCSV(cfg.SurveyPath)
	if err != nil {
		return fmt.Errorf("load survey: %w", err)
	}

	st, cleanup, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, err := openPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	srv := api.NewServer(cfg.Port, cfg.APIToken, st, publisher, slog.Default())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	slog.Info("careform ready", "port", cfg.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	}
}

func runEval(ctx context.Context, path string) error {
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	refPath := referenceFlag
	if refPath == "" {
		refPath = cfg.ReferencePath
	}
	reference, err := eval.LoadReference(refPath)
	if err != nil {
		return fmt.Errorf("load reference answers: %w", err)
	}

	s, err := survey.LoadCSV(cfg.SurveyPath)
	if err != nil {
		return fmt.Errorf("load survey: %w", err)
	}

	// The score measures one full pass over the interview, so answers
	// and chunk telemetry from earlier runs are cleared first.
	if err := os.Remove(cfg.AnswersPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear answers: %w", err)
	}
	recorder := eval.NewRecorder(cfg.ChunkLogPath, cfg.ResultsPath)
	if err := recorder.ResetChunkLog(); err != nil {
		return err
	}

	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.TranscribeModel)
	if cfg.OpenAIBaseURL != "" {
		llm.SetBaseURL(cfg.OpenAIBaseURL)
	}

	st, cleanup, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer cleanup()

	transcript, err := transcriber.ForPath(path, llm, slog.Default()).Transcribe(ctx, path)
	if err != nil {
		return err
	}

	runner := pipeline.New(extractor.New(llm, slog.Default()), st, recorder, nil, slog.Default())
	stats, err := runner.Run(ctx, transcript, pipeline.Params{
		SentencesPerChunk: cfg.SentencesPerChunk,
		OverlapSentences:  cfg.OverlapSentences,
	})
	if err != nil {
		return err
	}
	if stats.TotalChunks == 0 {
		return fmt.Errorf("transcript produced no chunks")
	}

	if _, err := recorder.Summarize(cfg.SentencesPerChunk, cfg.OverlapSentences, stats.TotalChunks); err != nil {
		return fmt.Errorf("summarize run: %w", err)
	}

	result := eval.Score(st.Snapshot(), reference, ignoreIDs, blankIDs, checkIDs)
	if err := recorder.RecordScore(cfg.SentencesPerChunk, cfg.OverlapSentences, result); err != nil {
		return fmt.Errorf("record score: %w", err)
	}

	slog.Info("evaluation complete",
		"chunks", stats.TotalChunks,
		"failed", stats.FailedChunks,
		"right", result.Right,
		"wrong", result.Wrong,
		"accuracy", result.Accuracy)
	return nil
}

// openStore builds the answer store, restoring any prior answers from
// disk. With DATABASE_URL set, every save also lands in Postgres.
func openStore(ctx context.Context, s *survey.Survey) (*store.Store, func(), error) {
	file := store.NewFilePersister(cfg.AnswersPath)
	answers, err := file.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load stored answers: %w", err)
	}

	var persister store.Persister = file
	cleanup := func() {}
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresPersister(ctx, cfg.DatabaseURL, uuid.NewString())
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		persister = teePersister{file, pg}
		cleanup = pg.Close
		slog.Info("postgres persistence enabled")
	}

	st := store.New(s, persister)
	st.Restore(answers)
	if len(answers) > 0 {
		slog.Info("restored answers", "count", len(answers))
	}
	return st, cleanup, nil
}

func openPublisher() (*notify.Publisher, error) {
	if cfg.NatsURL == "" {
		slog.Warn("NATS not configured, progress events disabled")
		return nil, nil
	}
	publisher, err := notify.Connect(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Info("NATS connected", "url", cfg.NatsURL)
	return publisher, nil
}

// teePersister writes each snapshot to both backing stores.
type teePersister struct {
	file, db store.Persister
}

func (t teePersister) Save(ctx context.Context, answers map[string]store.Record) error {
	if err := t.file.Save(ctx, answers); err != nil {
		return err
	}
	return t.db.Save(ctx, answers)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
