package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/mapnote/internal/auth"
	"github.com/woozymasta/mapnote/internal/config"
	"github.com/woozymasta/mapnote/internal/geocode"
	"github.com/woozymasta/mapnote/internal/logger"
	"github.com/woozymasta/mapnote/internal/server"
	"github.com/woozymasta/mapnote/internal/store"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string `short:"c" long:"config"       env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Addr        string `short:"a" long:"addr"         env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"0.0.0.0"`
	Port        int    `short:"p" long:"port"         env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
	AuthURL     string `short:"A" long:"auth-url"     env:"AUTH_URL"       description:"Authentication service base URL"`
	RedisAddr   string `short:"r" long:"redis-addr"   env:"REDIS_ADDR"     description:"Redis address for geocode cache and session tokens"`
	RedisPass   string `long:"redis-password"         env:"REDIS_PASSWORD" description:"Redis password"`
	SaveDriver  string `short:"s" long:"save-driver"  env:"SAVE_DRIVER"    description:"Where saved markers go" choice:"log" choice:"file" choice:"postgres"`
	DatabaseURL string `short:"d" long:"database-url" env:"DATABASE_URL"   description:"PostgreSQL URL for the postgres save driver"`
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", opts.ConfigFile).Msg("Configuration file not found, using defaults")
		cfg = config.Default()
	} else if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyOptions(cfg, &opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		defer func() { _ = rdb.Close() }()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	resolver, err := geocode.New(cfg.Geocoder, rdb, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up reverse geocoding")
	}

	saver, closeSaver, err := store.Open(ctx, cfg.Save, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Save.Driver).Msg("Failed to set up marker saving")
	}
	defer closeSaver()

	var tokens auth.TokenStore = auth.NewMemoryTokens()
	if rdb != nil {
		tokens = auth.NewRedisTokens(rdb, cfg.SessionTTL)
	}
	session := auth.NewSession(auth.NewClient(cfg.Auth), tokens, log.Logger)

	srvCtx := server.NewServerContext(cfg, resolver, saver, session)
	go srvCtx.Workspaces.Run(ctx)

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Strs("geocoders", cfg.Geocoder.Providers).
		Str("save_driver", cfg.Save.Driver).
		Str("auth_url", cfg.Auth.URL).
		Bool("redis", rdb != nil).
		Msg("Web server started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

// applyOptions lets command line and environment override the file.
func applyOptions(cfg *config.Config, opts *Options) {
	if opts.AuthURL != "" {
		cfg.Auth.URL = opts.AuthURL
	}
	if opts.RedisAddr != "" {
		cfg.Redis.Addr = opts.RedisAddr
	}
	if opts.RedisPass != "" {
		cfg.Redis.Password = opts.RedisPass
	}
	if opts.SaveDriver != "" {
		cfg.Save.Driver = opts.SaveDriver
	}
	if opts.DatabaseURL != "" {
		cfg.Save.DatabaseURL = opts.DatabaseURL
	}
}
