// Command fuelcore runs the R07 fuel-dispenser control daemon: it talks to
// the pump over RS-485, drives the RFID authorization flow, keeps the
// PumpRuntimeState store up to date, and fans state out to Redis, the usage
// log and Prometheus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sertumit/fuelcore/internal/config"
	"github.com/sertumit/fuelcore/internal/metrics"
	"github.com/sertumit/fuelcore/internal/pumpstate"
	"github.com/sertumit/fuelcore/internal/r07session"
	"github.com/sertumit/fuelcore/internal/rfidauth"
	"github.com/sertumit/fuelcore/internal/rfidreader"
	"github.com/sertumit/fuelcore/internal/runtime"
	"github.com/sertumit/fuelcore/internal/serialport"
	"github.com/sertumit/fuelcore/internal/statebus"
	"github.com/sertumit/fuelcore/internal/txlog"
	"github.com/sertumit/fuelcore/internal/users"
)

var (
	configPath string
	usersPath  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fuelcore",
		Short:         "R07 fuel dispenser control daemon",
		RunE:          runDaemon,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to Settings.json (defaults to <app root>/configs/default_settings.json)")
	cmd.Flags().StringVar(&usersPath, "users", "", "path to the users CSV (defaults to <app root>/configs/users.csv)")
	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	appRoot := config.DetectAppRoot()

	cfg, err := loadConfig(appRoot)
	if err != nil {
		return err
	}

	rs485 := cfg.PrimaryLink()

	logger := newLogger(cfg.Log)
	logger.Info("fuelcore starting",
		slog.String("app_root", appRoot),
		slog.String("serial_device", rs485.Port),
		slog.String("redis_addr", cfg.Redis.Addr),
	)

	if err := txlog.EnsureScaffold(appRoot); err != nil {
		return fmt.Errorf("ensure log scaffold: %w", err)
	}

	userLookup, err := loadUsers(appRoot, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var bus *statebus.Bus
	if cfg.Redis.Addr != "" {
		bus, err = statebus.New(statebus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			HashKey:  cfg.Redis.HashKey,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			logger.Warn("statebus disabled: could not connect to redis", slog.String("err", err.Error()))
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	session := r07session.New()
	session.Addr = byte(rs485.Addr)

	serialLink := serialport.New(logger, rs485.Port)
	serialLink.SetMode(rs485.Baud, rs485.DataBits, rs485.Parity, rs485.StopBits)

	reader := buildReader(cfg.Rfid)
	if err := reader.Open(readerDevice(cfg.Rfid)); err != nil {
		return fmt.Errorf("open rfid reader: %w", err)
	}
	defer reader.Close()
	recorder := txlog.NewRecorder(logger, appRoot)

	wr := runtime.New(runtime.Deps{
		Log:      logger,
		Link:     serialLink,
		Session:  session,
		Store:    pumpstate.New(),
		Reader:   reader,
		Users:    userLookup,
		Recorder: recorder,
		Bus:      bus,
		Metrics:  collector,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.String("err", err.Error()))
		}
	}()

	runErr := wr.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("fuelcore stopped")
	return runErr
}

// buildReader picks the concrete rfidreader.Reader per cfg.Rfid.Driver:
// "pn532" for real periph.io I2C hardware, anything else (including the
// default "sim") for bench/test use.
func buildReader(cfg config.RfidConfig) rfidreader.Reader {
	if strings.EqualFold(cfg.Driver, "pn532") {
		return rfidreader.NewPN532(cfg.I2CAddr)
	}
	return rfidreader.NewSim()
}

// readerDevice is the bus/device string passed to Reader.Open: an I2C bus
// name for pn532, ignored by SimReader.
func readerDevice(cfg config.RfidConfig) string {
	return cfg.I2CBus
}

func loadConfig(appRoot string) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(appRoot, "configs", "default_settings.json")
	}
	if _, err := os.Stat(path); err != nil {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func loadUsers(appRoot string, logger *slog.Logger) (rfidauth.UserLookup, error) {
	path := usersPath
	if path == "" {
		path = filepath.Join(appRoot, "configs", "users.csv")
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warn("no users CSV found, every card will be authorized", slog.String("path", path))
		return nil, nil
	}

	mgr := users.New()
	if err := mgr.Load(path); err != nil {
		return nil, fmt.Errorf("load users from %s: %w", path, err)
	}
	logger.Info("loaded users", slog.Int("count", len(mgr.All())))
	return mgr, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
