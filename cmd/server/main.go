package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/dispatcher"
	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/application/service"
	"github.com/haowenli/ai-call-agent/internal/config"
	"github.com/haowenli/ai-call-agent/internal/domain/event"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/external/lark"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/external/openai"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/external/telephony"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/persistence/repository"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/persistence/sqlite"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/report"
	httpserver "github.com/haowenli/ai-call-agent/internal/interfaces/http"
	"github.com/haowenli/ai-call-agent/pkg/database"
	"github.com/haowenli/ai-call-agent/pkg/retry"
	"github.com/haowenli/ai-call-agent/pkg/utils"
)

func main() {
	// Local .env, if present, before config reads the environment
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting AI call agent",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("auto_retry", cfg.Calls.AutoRetryFailedCalls))

	db, err := database.Open(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Report.OutputDir, 0755); err != nil {
		logger.Fatal("Failed to create report directory", zap.Error(err))
	}

	log := &appLogger{logger.Sugar()}

	// Persistence
	txDB := sqlite.NewDB(db, logger)
	taskRepo := repository.NewCallTaskRepository(db, logger)
	sessionRepo := repository.NewCallSessionRepository(db, logger)
	transcriptRepo := repository.NewTranscriptRepository(db, logger)
	priceRepo := repository.NewPriceRepository(txDB, logger)
	contactRepo := repository.NewContactRepository(db, logger)

	// External collaborators, each behind its own circuit breaker
	planner := openai.NewPlanner(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
	voice := telephony.NewClient(telephony.Config{
		BaseURL:    cfg.Telephony.BaseURL,
		APIKey:     cfg.Telephony.APIKey,
		FromNumber: cfg.Telephony.FromNumber,
		WebhookURL: cfg.Telephony.WebhookURL,
		Timeout:    cfg.Telephony.Timeout,
	}, logger)

	plannerBreaker := retry.NewBreaker(cfg.Calls.BreakerThreshold, cfg.Calls.BreakerResetTimeout)
	telephonyBreaker := retry.NewBreaker(cfg.Calls.BreakerThreshold, cfg.Calls.BreakerResetTimeout)
	retryCfg := retry.DefaultConfig()

	var notifier port.Notifier
	if cfg.Lark.AppID != "" {
		sdk := lark.NewSDKClient(lark.Config{
			AppID:         cfg.Lark.AppID,
			AppSecret:     cfg.Lark.AppSecret,
			ReceiveIDType: cfg.Lark.ReceiveIDType,
		}, logger)
		notifier = lark.NewNotifier(sdk, cfg.Lark.ReceiveIDType, logger)
	} else {
		logger.Info("Lark credentials absent, call outcomes will only be logged")
		notifier = &logNotifier{logger: logger}
	}

	exporter := report.NewExcelExporter(cfg.Report.OutputDir, logger)

	// Application services
	events := dispatcher.New(dispatcher.WithLogger(log))

	taskService := service.NewTaskService(taskRepo, contactRepo, planner, plannerBreaker, retryCfg, cfg.Calls.DefaultTone, events, log)
	callService := service.NewCallService(taskRepo, sessionRepo, transcriptRepo, contactRepo, planner, voice, plannerBreaker, telephonyBreaker, retryCfg, events, log)
	webhookService := service.NewWebhookService(taskRepo, sessionRepo, transcriptRepo, priceRepo, service.RetryPolicy{
		AutoRetryFailedCalls: cfg.Calls.AutoRetryFailedCalls,
		MaxRetryAttempts:     cfg.Calls.MaxRetryAttempts,
	}, events, log)
	contactService := service.NewContactService(contactRepo, log)
	reportService := service.NewReportService(taskRepo, sessionRepo, priceRepo, exporter, log)
	notificationService := service.NewNotificationService(taskRepo, priceRepo, notifier, log)

	notificationService.RegisterHandlers(events)

	// Auto-retry redials through the same path a user-triggered call takes
	events.Subscribe(event.TypeCallRetryScheduled, "call.redial", func(ctx context.Context, evt *event.Event) error {
		userID := evt.GetPayloadString("user_id")
		if userID == "" {
			return fmt.Errorf("retry event %s has no user_id", evt.ID)
		}
		_, err := callService.StartCall(ctx, userID, evt.TaskID)
		if errors.Is(err, service.ErrTelephonyNotConfigured) || errors.Is(err, service.ErrPreconditionFailed) {
			log.Info("Skipping scheduled redial", "task_id", evt.TaskID, "reason", err.Error())
			return nil
		}
		return err
	})

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, taskService, callService, webhookService, contactService, reportService, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server error", zap.Error(err))
	}

	if err := events.Close(); err != nil {
		logger.Error("Dispatcher shutdown error", zap.Error(err))
	}

	logger.Info("Server exited")
}

// appLogger adapts the sugared zap logger to the services' Logger interface
type appLogger struct {
	*zap.SugaredLogger
}

func (l *appLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

func (l *appLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, keysAndValues...)
}

// logNotifier stands in for Lark when no credentials are configured.
type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) NotifyCallOutcome(ctx context.Context, userID string, outcome *port.CallOutcome) error {
	n.logger.Info("Call outcome",
		zap.String("user_id", userID),
		zap.String("task_id", outcome.TaskID),
		zap.Bool("succeeded", outcome.Succeeded),
		zap.String("summary", outcome.Summary))
	return nil
}
