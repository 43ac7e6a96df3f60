package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Skufu/deprescribe/internal/analysis"
	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/config"
	"github.com/Skufu/deprescribe/internal/criteria"
	"github.com/Skufu/deprescribe/internal/httpapi"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/refine"
	"github.com/Skufu/deprescribe/internal/report"
	"github.com/Skufu/deprescribe/internal/risk"
	"github.com/Skufu/deprescribe/internal/store"
	"github.com/Skufu/deprescribe/internal/taper"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Deprescribing decision support for older adults",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), analyzeCmd(), taperCmd(), criteriaCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// engine is everything a command needs, with the resources to release.
type engine struct {
	service *analysis.Service
	pool    *pgxpool.Pool
	redis   *redis.Client
	refiner *refine.Client
}

func (e *engine) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{}
	if cfg.NeedsDB() {
		pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		e.pool = pool
	}

	repo, err := loadRepository(ctx, cfg, e.pool)
	if err != nil {
		e.Close()
		return nil, err
	}

	if cfg.RefinementEnabled() {
		e.refiner, err = refine.New(refine.Config{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			Timeout:    cfg.TaperRefineTimeout,
			RetryCount: 1,
		}, logger.With().Str("component", "refine").Logger())
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	checkerOpts := []interaction.Option{
		interaction.WithTimeout(cfg.InteractionTimeout),
		interaction.WithConcurrency(cfg.InteractionConcurrency),
		interaction.WithLogger(logger.With().Str("component", "interaction").Logger()),
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		e.redis = redis.NewClient(opts)
		checkerOpts = append(checkerOpts, interaction.WithCache(interaction.NewRedisCache(e.redis, cfg.InteractionCacheTTL)))
	}

	var synth interaction.Synthesizer
	taperOpts := []taper.Option{
		taper.WithTimeout(cfg.TaperRefineTimeout),
		taper.WithLogger(logger.With().Str("component", "taper").Logger()),
	}
	if e.refiner != nil {
		synth = e.refiner
		taperOpts = append(taperOpts, taper.WithRefiner(e.refiner))
	}

	e.service = analysis.NewService(repo,
		risk.NewScorer(cfg.RiskPolicy()),
		interaction.NewChecker(repo, synth, checkerOpts...),
		taper.NewGenerator(repo, taperOpts...),
		analysis.WithLogger(logger.With().Str("component", "analysis").Logger()),
	)
	return e, nil
}

func loadRepository(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*criteria.Repository, error) {
	switch cfg.CriteriaSource {
	case config.CriteriaDir:
		return criteria.LoadDir(cfg.CriteriaDir)
	case config.CriteriaPostgres:
		if pool == nil {
			return nil, errors.New("CRITERIA_SOURCE=postgres needs a database connection")
		}
		return store.LoadRepository(ctx, pool)
	default:
		return criteria.LoadEmbedded()
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer eng.Close()

	var db httpapi.HealthChecker
	if eng.pool != nil {
		db = eng.pool
	}
	router := httpapi.NewRouter(httpapi.Options{
		Service:      eng.service,
		DB:           db,
		Logger:       logger.With().Str("component", "http").Logger(),
		MaxBodyBytes: cfg.MaxBodyBytes,
		Refinement:   eng.refiner != nil,
		Cache:        eng.redis != nil,
		Version:      version,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Str("criteria", cfg.CriteriaSource).
		Bool("refinement", eng.refiner != nil).
		Bool("cache", eng.redis != nil).
		Msg("server listening")
	return waitForShutdown(server, errCh, logger)
}

func waitForShutdown(server *http.Server, errCh <-chan error, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// readPatient accepts either the API body ({"patient": {...}}) or a bare
// patient object.
func readPatient(raw []byte) (clinical.PatientInput, error) {
	var wrapped struct {
		Patient *clinical.PatientInput `json:"patient"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return clinical.PatientInput{}, fmt.Errorf("parse patient: %w", err)
	}
	if wrapped.Patient != nil {
		return *wrapped.Patient, nil
	}
	var in clinical.PatientInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return clinical.PatientInput{}, fmt.Errorf("parse patient: %w", err)
	}
	return in, nil
}

func analyzeCmd() *cobra.Command {
	var file, xlsx string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a patient JSON file and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			in, err := readPatient(raw)
			if err != nil {
				return err
			}
			eng, err := cliEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.service.Analyze(cmd.Context(), in)
			if err != nil {
				return err
			}
			if xlsx != "" {
				data, err := report.Workbook(res)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsx, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", xlsx, err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "patient JSON file")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also write an XLSX report to this path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func taperCmd() *cobra.Command {
	var (
		req analysis.TaperPlanRequest
		cfs int
	)
	cmd := &cobra.Command{
		Use:   "taper",
		Short: "Print a taper plan for one drug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfs > 0 {
				req.CFSScore = &cfs
			}
			eng, err := cliEngine(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			plan, err := eng.service.GetTaperPlan(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), plan)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.DrugName, "drug", "", "drug name")
	f.StringVar(&req.CurrentDose, "dose", "", "current dose, e.g. 10mg")
	f.StringVar(&req.Duration, "duration", "long_term", "time on the drug (short_term, long_term or free text)")
	f.IntVar(&req.Age, "age", 0, "patient age")
	f.IntVar(&cfs, "cfs", 0, "Clinical Frailty Scale score (1-9)")
	f.BoolVar(&req.IsFrail, "frail", false, "patient is frail")
	f.StringSliceVar(&req.Comorbidities, "comorbidity", nil, "comorbidity (repeatable)")
	_ = cmd.MarkFlagRequired("drug")
	return cmd
}

func criteriaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Inspect and manage the criteria tables",
	}

	var dir string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the criteria tables and report integrity problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := loadForInspection(dir)
			if err != nil {
				return err
			}
			s := repo.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d STOP, %d START, %d drugs, %d herbs, %d curated interactions\n",
				s.StopCriteria, s.StartCriteria, s.Drugs, s.Herbs, s.Interactions)
			return nil
		},
	}
	validate.Flags().StringVar(&dir, "dir", "", "YAML directory (default: embedded tables)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print table statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := loadForInspection(dir)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), repo.Stats())
		},
	}
	stats.Flags().StringVar(&dir, "dir", "", "YAML directory (default: embedded tables)")

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the criteria tables in DATABASE_URL and load the embedded STOP and START rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			ds, err := criteria.EmbeddedDataset()
			if err != nil {
				return err
			}
			pool, err := store.Connect(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			if err := store.Seed(cmd.Context(), pool, ds.Stop, ds.Start); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d STOP and %d START criteria\n", len(ds.Stop), len(ds.Start))
			return nil
		},
	}

	cmd.AddCommand(validate, stats, seed)
	return cmd
}

func loadForInspection(dir string) (*criteria.Repository, error) {
	if dir != "" {
		return criteria.LoadDir(dir)
	}
	return criteria.LoadEmbedded()
}

// cliEngine builds the engine for one-shot commands. Logs go to stderr so
// stdout stays parseable.
func cliEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	return buildEngine(cmd.Context(), cfg, logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
