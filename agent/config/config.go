package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AgentConfig is the node-side configuration. Everything has a sane
// default for a Raspberry Pi class device; the server URL is the only
// value most installs set.
type AgentConfig struct {
	ServerURL    string `mapstructure:"server_url" validate:"required,url"`
	NodeName     string `mapstructure:"node_name" validate:"required"`
	NodeLocation string `mapstructure:"node_location"`

	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	// Capture
	AudioDevice     string `mapstructure:"audio_device"`
	ClipSeconds     int    `mapstructure:"clip_seconds" validate:"required,min=10"`
	AudioStorageDir string `mapstructure:"audio_storage_dir" validate:"required"`
	DataDir         string `mapstructure:"data_dir" validate:"required"`

	// Upload
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"required"`
	UploadRetries int           `mapstructure:"upload_retries" validate:"min=1"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	KeepDays      int           `mapstructure:"keep_days"`

	// Liveness
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required"`
}

// reading config and intializing configs for the node agent
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
	v.SetDefault("SERVER_URL", "http://localhost:8420")
	v.SetDefault("NODE_NAME", hostnameOrDefault())
	v.SetDefault("NODE_LOCATION", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("AUDIO_DEVICE", "default")
	v.SetDefault("CLIP_SECONDS", 600)
	v.SetDefault("AUDIO_STORAGE_DIR", "data/clips")
	v.SetDefault("DATA_DIR", "data")

	v.SetDefault("POLL_INTERVAL", "5s")
	v.SetDefault("UPLOAD_RETRIES", 3)
	v.SetDefault("RETRY_DELAY", "2s")
	v.SetDefault("KEEP_DAYS", 3)

	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
}

func hostnameOrDefault() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "homemic-node"
}

// Getting agent config from viper
func GetAgentConfig(v *viper.Viper) (*AgentConfig, error) {
	var config AgentConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
