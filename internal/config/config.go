package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Doubao  DoubaoConfig  `mapstructure:"doubao"`
	Qwen    QwenConfig    `mapstructure:"qwen"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	Context ContextConfig `mapstructure:"context"`
}

// APIConfig points the client at a conversation backend.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AuthToken      string        `mapstructure:"auth_token"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

type ModelConfig struct {
	Provider     string `mapstructure:"provider"`
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxHistory   int    `mapstructure:"max_history"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type DoubaoConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

type WalletConfig struct {
	PrivateKey     string            `mapstructure:"private_key"`
	RPCURLs        map[string]string `mapstructure:"rpc_urls"`
	PollInterval   time.Duration     `mapstructure:"poll_interval"`
	ConfirmTimeout time.Duration     `mapstructure:"confirm_timeout"`
}

// ContextConfig is the filter applied to brand-new conversations.
type ContextConfig struct {
	ChainIDs      []string `mapstructure:"chain_ids"`
	WalletAddress string   `mapstructure:"wallet_address"`
	Networks      string   `mapstructure:"networks"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.stream_timeout", 5*time.Minute)

	v.SetDefault("model.provider", "script")
	v.SetDefault("model.max_history", 20)
	v.SetDefault("model.system_prompt", "You are a blockchain assistant. Answer briefly.")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "Accept"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 64)

	v.SetDefault("wallet.poll_interval", 2*time.Second)
	v.SetDefault("wallet.confirm_timeout", 3*time.Minute)

	// secrets usually come from the environment only; viper needs the key
	// registered for Unmarshal to see it
	for _, key := range []string{
		"api.auth_token",
		"server.auth_token",
		"openai.api_key",
		"openai.base_url",
		"openai.model",
		"doubao.api_key",
		"doubao.model",
		"qwen.api_key",
		"qwen.base_url",
		"qwen.model",
		"wallet.private_key",
		"context.wallet_address",
		"context.networks",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads the YAML file at configPath (optional when empty) and overlays
// NEBULA_* environment variables, e.g. NEBULA_API_AUTH_TOKEN.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NEBULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

func Get() *Config {
	return cfg
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	switch c.Storage.Type {
	case "memory", "disk":
	default:
		return fmt.Errorf("storage.type must be memory or disk, got %q", c.Storage.Type)
	}
	if c.Storage.Type == "disk" && c.Storage.DataDir == "" {
		return errors.New("storage.data_dir cannot be empty for disk storage")
	}
	switch c.Model.Provider {
	case "script", "openai", "doubao", "qwen":
	default:
		return fmt.Errorf("unsupported model provider %q", c.Model.Provider)
	}
	switch c.Context.Networks {
	case "", "mainnet", "testnet", "all":
	default:
		return fmt.Errorf("context.networks must be mainnet, testnet or all, got %q", c.Context.Networks)
	}
	return nil
}
