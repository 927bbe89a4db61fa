package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Spok95/school-backend/internal/app"
	"github.com/Spok95/school-backend/internal/assessment"
	"github.com/Spok95/school-backend/internal/audit"
	"github.com/Spok95/school-backend/internal/auth"
	"github.com/Spok95/school-backend/internal/config"
	"github.com/Spok95/school-backend/internal/db"
	"github.com/Spok95/school-backend/internal/jobs"
	"github.com/Spok95/school-backend/internal/logging"
	"github.com/Spok95/school-backend/internal/observability"
	"github.com/Spok95/school-backend/internal/rbac"
)

func main() {
	// Загрузка переменных окружения
	if err := godotenv.Load(); err != nil {
		log.Println("Не удалось загрузить .env файл, используем переменные окружения")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer lg.Closer()
	for _, w := range cfg.Warnings {
		lg.Base.Warn("config", zap.String("warning", w))
	}

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release)
	if err != nil {
		lg.Base.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		observability.CaptureErr(err)
		lg.Base.Error("server stopped with error", zap.Error(err))
		flush()
		lg.Closer()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg *logging.Log) error {
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	users := db.NewUserRepo(database)
	sessions := db.NewSessionRepo(database, cfg.SessionTTL)

	registry := rbac.NewRegistry()
	if cfg.PermissionsFile != "" {
		f, err := os.Open(cfg.PermissionsFile)
		if err != nil {
			return err
		}
		err = registry.LoadYAML(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	if res := registry.ValidateConfiguration(); !res.IsValid {
		for _, e := range res.Errors {
			lg.Base.Warn("permission config", zap.String("problem", e))
		}
	}
	authz := rbac.NewAuthorizer(registry)

	recorder := audit.NewRecorder(db.NewActivityRepo(database), lg.Named("audit"))

	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
	})
	if err != nil {
		return err
	}
	authSvc := auth.NewService(auth.Deps{
		Users:    users,
		Sessions: sessions,
		Tokens:   tokens,
		Hasher:   auth.NewHasher(cfg.BcryptCost),
		Audit:    recorder,
		Gate:     authz,
		Log:      lg.Named("auth"),
	})

	attempts := assessment.NewService(assessment.Deps{
		Assessments: db.NewAssessmentRepo(database),
		Attempts:    db.NewAttemptRepo(database),
		Authz:       authz,
		Audit:       recorder,
		Log:         lg.Named("assessment"),
		Location:    cfg.Location,
	})

	runner := jobs.New(ctx, lg.Named("jobs"))
	// первый прогон сразу при старте
	_ = runner.RunOnce(jobs.AutoSubmitJob, jobs.AutoSubmit(attempts))
	runner.Every(cfg.AutoSubmitInterval, jobs.AutoSubmitJob, jobs.AutoSubmit(attempts))
	runner.Every(cfg.SessionGCInterval, jobs.PurgeSessionsJob, jobs.PurgeSessions(sessions, lg.Named("jobs"), time.Now))

	srv := app.NewServer(database, authSvc, lg.Named("http"))
	app.StartHTTP(ctx, cfg.HTTPAddr, srv.Router(), lg.Named("http"))
	lg.Base.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))

	<-ctx.Done()
	lg.Base.Info("shutting down")
	runner.Wait()
	return nil
}
