package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig
	Server   ServerConfig
	Dialogue DialogueConfig
	Log      LogConfig
}

// LLMConfig holds the remote model API configuration
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CharacterURL    string        `mapstructure:"character_url"`
	ChatModel       string        `mapstructure:"chat_model"`
	CharacterModel  string        `mapstructure:"character_model"`
	ImageModel      string        `mapstructure:"image_model"`
	TokenTTLSeconds int64         `mapstructure:"token_ttl_seconds"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// DialogueConfig holds the turn engine, avatar and transcript settings
type DialogueConfig struct {
	DefaultRounds    int             `mapstructure:"default_rounds"`
	TranscriptDir    string          `mapstructure:"transcript_dir"`
	GenerateImages   bool            `mapstructure:"generate_images"`
	ImageDir         string          `mapstructure:"image_dir"`
	ImageAttempts    int             `mapstructure:"image_attempts"`
	ImageStylePrefix string          `mapstructure:"image_style_prefix"`
	Personas         PersonaDefaults `mapstructure:"personas"`
}

// PersonaDefaults pre-fills the persona fields of new sessions
type PersonaDefaults struct {
	UserName string `mapstructure:"user_name"`
	UserInfo string `mapstructure:"user_info"`
	BotName  string `mapstructure:"bot_name"`
	BotInfo  string `mapstructure:"bot_info"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://open.bigmodel.cn/api/paas/v4")
	v.SetDefault("llm.character_url", "https://open.bigmodel.cn/api/paas/v3/model-api/charglm-3/sse-invoke")
	v.SetDefault("llm.chat_model", "glm-4")
	v.SetDefault("llm.character_model", "charglm-3")
	v.SetDefault("llm.image_model", "cogview-3")
	v.SetDefault("llm.token_ttl_seconds", 1800)
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8501")

	v.SetDefault("dialogue.default_rounds", 3)
	v.SetDefault("dialogue.transcript_dir", "resources/perseverance_data")
	v.SetDefault("dialogue.generate_images", false)
	v.SetDefault("dialogue.image_dir", "resources/image")
	v.SetDefault("dialogue.image_attempts", 3)
	v.SetDefault("dialogue.image_style_prefix", "二次元风格。")
	v.SetDefault("dialogue.personas.user_name", "")
	v.SetDefault("dialogue.personas.user_info", "")
	v.SetDefault("dialogue.personas.bot_name", "")
	v.SetDefault("dialogue.personas.bot_info", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "resources/logs")
}

// Load reads config.yaml from the working directory, or the file named by
// CONFIG_PATH. A missing file is fine: defaults and the environment still
// apply. ZHIPU_API_KEY always feeds llm.api_key.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.BindEnv("llm.api_key", "ZHIPU_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
