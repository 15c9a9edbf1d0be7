package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pccr10001/modemd/internal/api"
	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/hotplug"
	"github.com/pccr10001/modemd/internal/logic"
	"github.com/pccr10001/modemd/internal/mccmnc"
	"github.com/pccr10001/modemd/internal/metrics"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/internal/registry"
	"github.com/pccr10001/modemd/internal/repository"
	"github.com/pccr10001/modemd/internal/worker"
	"github.com/pccr10001/modemd/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "detect modems, follow hotplug events and serve the API",
	RunE:  runServe,
}

func init() {
	CMD.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig
	defer logger.Sync()
	logger.Log.Info("Starting modemd...")

	if err := mccmnc.LoadOperators(cfg.Serial.OperatorsFile); err != nil {
		logger.Log.Warnf("Failed to load MCC/MNC data: %v", err)
	}

	db := initDB(cfg.Database)
	attachments := repository.NewAttachmentRepository(db)
	if err := attachments.MarkAllDetached(); err != nil {
		logger.Log.Warnf("Failed to close stale attachments: %v", err)
	}
	webhooks := repository.NewWebhookRepository(db)
	notifier := logic.NewWebhookService(webhooks, cfg.Webhook)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		h, err := metrics.InitPrometheus()
		if err != nil {
			logger.Log.Warnf("Metrics disabled: %v", err)
		} else if err := metrics.Init(); err != nil {
			logger.Log.Warnf("Metrics disabled: %v", err)
		} else {
			metricsHandler = h
		}
	}

	wm := worker.NewManager(db, notifier, cfg.Serial, cfg.GPS)
	reg := registry.New(newScanner(cfg.Detect), wm)
	mon := hotplug.NewMonitor(reg, openSource(cfg), hotplug.Options{
		SysRoot:     cfg.Detect.SysRoot,
		RescanDelay: cfg.Detect.RescanDelayDuration(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	var srv *http.Server
	if cfg.Server.Enabled {
		if cfg.Server.Mode == "release" {
			gin.SetMode(gin.ReleaseMode)
		}
		r := api.NewRouter(api.Deps{
			Monitor:     mon,
			Modems:      wm,
			Attachments: attachments,
			Webhooks:    webhooks,
			Metrics:     metricsHandler,
			Token:       cfg.Server.Token,
		})
		srv = &http.Server{Addr: cfg.Server.Port, Handler: r}
		go func() {
			logger.Log.Infof("Server listening on %s", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Errorf("Server failed: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Log.Info("Shutting down...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	err := <-monDone
	wm.Stop()
	notifier.Wait()
	return err
}

// openSource picks the hotplug notification channel. Without one the
// daemon still scans at startup and on request.
func openSource(cfg config.Config) hotplug.Source {
	if !cfg.Hotplug.Enabled {
		logger.Log.Info("Hotplug tracking disabled")
		return nil
	}
	nl, err := hotplug.OpenNetlink(cfg.Hotplug.Buffer)
	if err == nil {
		logger.Log.Info("Listening for kernel uevents")
		return nl
	}
	logger.Log.Warnf("Cannot open uevent socket: %v", err)

	if !cfg.Hotplug.DevfsFallback {
		return nil
	}
	dw, err := hotplug.WatchDevfs(cfg.Detect.DevRoot, cfg.Detect.TTYPrefixes, cfg.Hotplug.Buffer)
	if err != nil {
		logger.Log.Warnf("Cannot watch %s: %v", cfg.Detect.DevRoot, err)
		return nil
	}
	logger.Log.Infof("Watching %s for device nodes", cfg.Detect.DevRoot)
	return dw
}

func initDB(cfg config.DatabaseConfig) *gorm.DB {
	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "modemd.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&model.Attachment{}, &model.Position{}, &model.Webhook{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}
