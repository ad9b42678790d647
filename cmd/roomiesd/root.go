package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roomies-app/roomies-sync/internal/api"
	"github.com/roomies-app/roomies-sync/internal/auth"
	"github.com/roomies-app/roomies-sync/internal/config"
	"github.com/roomies-app/roomies-sync/internal/store"
)

var (
	flagConfigDir string
	flagLogFile   string
	flagServerURL string

	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "roomiesd",
	Short: "Offline-first sync daemon for household task data",
	Long: `roomiesd keeps a local copy of your household's tasks consistent with
the Roomies service.

Tasks created or edited while offline are stored locally, marked dirty,
and uploaded when connectivity returns. Remote changes arrive through
periodic pulls and a real-time event channel. Conflicts are resolved
whole-record, last writer wins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagLogFile != "" {
			logOutput = &lumberjack.Logger{
				Filename:   flagLogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
			log.SetOutput(logOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", config.DefaultDir(),
		"configuration and data directory")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "",
		"write logs to this file with rotation instead of stderr")
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "",
		"override the configured server URL")
}

// componentLogger returns a prefixed logger routed through the shared
// output (stderr or the rotated log file).
func componentLogger(prefix string) *log.Logger {
	return log.New(logOutput, "["+prefix+"] ", log.LstdFlags)
}

// loadConfig resolves configuration with the --server override applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}
	if flagServerURL != "" {
		cfg.ServerURL = strings.TrimRight(flagServerURL, "/")
	}
	return cfg, nil
}

// openStore opens and migrates the local database.
func openStore(cmd *cobra.Command, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// accountFile records which account is logged in on this device.
func accountFile(cfg *config.Config) string {
	return filepath.Join(cfg.CredentialsDir(), "account")
}

// currentAccount returns the logged-in account identifier, or "" when
// logged out.
func currentAccount(cfg *config.Config) string {
	data, err := os.ReadFile(accountFile(cfg))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func setCurrentAccount(cfg *config.Config, account string) error {
	if err := os.MkdirAll(cfg.CredentialsDir(), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return os.WriteFile(accountFile(cfg), []byte(account+"\n"), 0600)
}

// credStore returns the credential store for the logged-in account.
func credStore(cfg *config.Config) *auth.Store {
	account := currentAccount(cfg)
	if account == "" {
		account = "default"
	}
	return auth.NewStore(cfg.CredentialsDir(), account)
}

// newClient builds the delivery client. onNetworkDown may be nil.
func newClient(cfg *config.Config, creds *auth.Store, onNetworkDown func()) *api.Client {
	clientCfg := api.DefaultConfig(cfg.ServerURL)
	clientCfg.RequestTimeout = cfg.RequestTimeout
	clientCfg.Logger = componentLogger("api")
	clientCfg.OnNetworkDown = onNetworkDown
	return api.New(clientCfg, creds)
}
