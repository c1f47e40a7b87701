package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nebula-chat/internal/client"
	"nebula-chat/internal/config"
	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
	"nebula-chat/internal/storage"
	"nebula-chat/internal/wallet"
	"nebula-chat/pkg/logger"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nebula-chat",
	Short: "Terminal client for a streaming blockchain assistant",
	Long: `nebula-chat talks to a conversation backend over HTTP and server-sent events.

Run "nebula-chat chat" for an interactive conversation, "nebula-chat sessions"
to manage stored conversations, or "nebula-chat serve" for a local reference
backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine
		_ = godotenv.Load()

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if err := logger.InitWithOutput(loaded.Log.Level, loaded.Log.Format, os.Stderr); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(chatCmd, sessionsCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore returns the configured local store, falling back to memory when
// the disk store cannot be initialised.
func openStore(c *config.Config) storage.Storage {
	var store storage.Storage
	if c.Storage.Type == "disk" {
		store = storage.NewDiskStorage(c.Storage.DataDir, c.Storage.CacheSize)
	} else {
		store = storage.NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		_ = store.Init()
	}
	return store
}

func defaultFilter(c *config.Config) model.ContextFilter {
	return model.ContextFilter{
		ChainIDs:      c.Context.ChainIDs,
		WalletAddress: c.Context.WalletAddress,
		Networks:      model.Network(c.Context.Networks),
	}
}

func newChatService(c *config.Config, store storage.Storage) (*service.ChatService, *wallet.KeyWallet, error) {
	api := client.New(c.API.BaseURL, c.API.AuthToken, c.API.Timeout)

	var opts []service.Option
	var w *wallet.KeyWallet
	if c.Wallet.PrivateKey != "" {
		var err error
		w, err = wallet.FromConfig(c.Wallet)
		if err != nil {
			return nil, nil, fmt.Errorf("wallet: %w", err)
		}
		opts = append(opts, service.WithWallet(w))
	}

	return service.NewChatService(api, store, defaultFilter(c), opts...), w, nil
}
