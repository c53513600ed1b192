package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/homemicai/pkg/connectors"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	// Storage
	DatabaseDriver string                   `mapstructure:"database_driver" validate:"required,oneof=sqlite postgres"`
	SqlitePath     string                   `mapstructure:"sqlite_path"`
	PostgresConfig connectors.PostgresConfig `mapstructure:"postgres"`

	// Clip ingestion
	AudioStorageDir  string `mapstructure:"audio_storage_dir" validate:"required"`
	MaxBatchFileSize int64  `mapstructure:"max_batch_file_size" validate:"required"`
	AudioKeepDays    int    `mapstructure:"audio_keep_days"`

	// Transcription capability
	TranscribeBackend string `mapstructure:"transcribe_backend" validate:"required,oneof=whispercpp openai noop"`
	TranscribeWorkers int    `mapstructure:"transcribe_workers" validate:"required,min=1"`
	WhisperBin        string `mapstructure:"whisper_bin"`
	WhisperModel      string `mapstructure:"whisper_model"`
	OpenAIApiKey      string `mapstructure:"openai_api_key"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "homemic-server")
	v.SetDefault("VERSION", "1.0.0")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8420)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "data/homemic.db")

	v.SetDefault("AUDIO_STORAGE_DIR", "data/audio")
	v.SetDefault("MAX_BATCH_FILE_SIZE", 100*1024*1024)
	v.SetDefault("AUDIO_KEEP_DAYS", 14)

	v.SetDefault("TRANSCRIBE_BACKEND", "whispercpp")
	v.SetDefault("TRANSCRIBE_WORKERS", 2)
	v.SetDefault("WHISPER_BIN", "/opt/whisper.cpp/build/bin/whisper-cli")
	v.SetDefault("WHISPER_MODEL", "/opt/whisper.cpp/models/ggml-small.bin")
	v.SetDefault("OPENAI_API_KEY", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "homemic")
	v.SetDefault("POSTGRES__USER", "homemic")
	v.SetDefault("POSTGRES__PASSWORD", "")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDLE_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
