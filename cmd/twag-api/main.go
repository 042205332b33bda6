package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/twag/internal/config"
	"github.com/MarcoPoloResearchLab/twag/internal/database"
	"github.com/MarcoPoloResearchLab/twag/internal/logging"
	"github.com/MarcoPoloResearchLab/twag/internal/notion"
	"github.com/MarcoPoloResearchLab/twag/internal/server"
	"github.com/MarcoPoloResearchLab/twag/internal/session"
	"github.com/MarcoPoloResearchLab/twag/internal/tags"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "twag-api",
		Short: "Twag tap resolution service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("notion-base-url", defaults.GetString("notion.base_url"), "Notion API base URL")
	cmd.PersistentFlags().String("notion-belongings-db", defaults.GetString("notion.belongings_db"), "Notion belongings database id")
	cmd.PersistentFlags().String("notion-containers-db", defaults.GetString("notion.containers_db"), "Notion containers database id")
	cmd.PersistentFlags().Int("interaction-window-minutes", defaults.GetInt("interaction.window_minutes"), "Move/undo interaction window in minutes")
	cmd.PersistentFlags().Int("mutation-timeout-ms", defaults.GetInt("mutation.timeout_ms"), "Mutation dispatch timeout in milliseconds")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "notion.base_url", "notion-base-url")
	bindFlag(cmd, "notion.belongings_db", "notion-belongings-db")
	bindFlag(cmd, "notion.containers_db", "notion-containers-db")
	bindFlag(cmd, "interaction.window_minutes", "interaction-window-minutes")
	bindFlag(cmd, "mutation.timeout_ms", "mutation-timeout-ms")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	belongingsDB, err := tags.ParsePageRef(appConfig.NotionBelongingsDB)
	if err != nil {
		return err
	}
	containersDB, err := tags.ParsePageRef(appConfig.NotionContainersDB)
	if err != nil {
		return err
	}

	notionClient, err := notion.NewClient(notion.ClientConfig{
		BaseURL:      appConfig.NotionBaseURL,
		Token:        appConfig.NotionToken,
		BelongingsDB: belongingsDB,
		ContainersDB: containersDB,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	cacheStore, err := tags.NewCacheStore(tags.CacheStoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := tags.NewDispatcher(tags.DispatcherConfig{
		Content: notionClient,
		Cache:   cacheStore,
		Timeout: appConfig.MutationTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	tagService, err := tags.NewService(tags.ServiceConfig{
		Cache:      cacheStore,
		Content:    notionClient,
		Sessions:   session.NewMemoryStore(time.Now),
		Dispatcher: dispatcher,
		Window:     appConfig.InteractionWindow,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer := session.NewTokenIssuer(session.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "twag-api",
		Audience:      "twag-tap",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Resolver:   tagService,
		Cache:      cacheStore,
		Tokens:     tokenIssuer,
		CookieName: appConfig.SessionCookieName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
