package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Hotplug  HotplugConfig  `mapstructure:"hotplug"`
	Serial   SerialConfig   `mapstructure:"serial"`
	GPS      GPSConfig      `mapstructure:"gps"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	Token   string `mapstructure:"token"` // bearer token for /api/v1, empty disables
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type DetectConfig struct {
	SysRoot        string        `mapstructure:"sys_root"`
	DevRoot        string        `mapstructure:"dev_root"`
	MaxDepth       int           `mapstructure:"max_depth"`
	RescanDelay    string        `mapstructure:"rescan_delay"`
	TTYPrefixes    []string      `mapstructure:"tty_prefixes"`
	USBDescriptors bool          `mapstructure:"usb_descriptors"`
	Labels         []LabelConfig `mapstructure:"labels"`
}

// LabelConfig pins an upstream label ("modem", "aux", ...) on one interface
// of a given device, the way udev rules tag ports for label-based families.
type LabelConfig struct {
	Vendor    string `mapstructure:"vendor"`
	Product   string `mapstructure:"product"`
	Interface string `mapstructure:"interface"`
	Label     string `mapstructure:"label"`
}

type HotplugConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	DevfsFallback bool `mapstructure:"devfs_fallback"`
	Buffer        int  `mapstructure:"buffer"`
}

type SerialConfig struct {
	BaudRate       int      `mapstructure:"baud_rate"`
	InitATCommands []string `mapstructure:"init_at_commands"`
	ProbeTimeout   string   `mapstructure:"probe_timeout"`
	PollInterval   string   `mapstructure:"poll_interval"`
	OperatorsFile  string   `mapstructure:"operators_file"` // mcc_mnc.json
}

type GPSConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	BaudRate int  `mapstructure:"baud_rate"`
}

type WebhookConfig struct {
	URLs           []string `mapstructure:"urls"`
	TelegramToken  string   `mapstructure:"telegram_token"`
	TelegramChatID string   `mapstructure:"telegram_chat_id"`
	SlackURL       string   `mapstructure:"slack_url"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "modemd.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("detect.sys_root", "/sys")
	v.SetDefault("detect.dev_root", "/dev")
	v.SetDefault("detect.max_depth", 20)
	v.SetDefault("detect.rescan_delay", "3s")
	v.SetDefault("detect.tty_prefixes", []string{"ttyACM", "ttyUSB", "ttyHS"})
	v.SetDefault("detect.usb_descriptors", false)

	v.SetDefault("hotplug.enabled", true)
	v.SetDefault("hotplug.devfs_fallback", false)
	v.SetDefault("hotplug.buffer", 64)

	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.probe_timeout", "2s")
	v.SetDefault("serial.poll_interval", "30s")
	v.SetDefault("serial.operators_file", "mcc_mnc.json")

	v.SetDefault("gps.enabled", false)
	v.SetDefault("gps.baud_rate", 9600)

	v.SetDefault("metrics.enabled", true)
}

// Load reads the config file (path may be empty to search "./config.yaml")
// and environment overrides into a fresh Config.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Detect.MaxDepth <= 0 {
		cfg.Detect.MaxDepth = 20
	}
	if cfg.Hotplug.Buffer <= 0 {
		cfg.Hotplug.Buffer = 64
	}
	if cfg.Serial.BaudRate <= 0 {
		cfg.Serial.BaudRate = 115200
	}

	return cfg, nil
}

func LoadConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	AppConfig = cfg
	log.Println("Configuration loaded successfully")
}

// RescanDelayDuration is the debounce between a hotplug "add" and the re-scan.
func (d DetectConfig) RescanDelayDuration() time.Duration {
	return parseDuration(d.RescanDelay, 3*time.Second)
}

func (s SerialConfig) ProbeTimeoutDuration() time.Duration {
	return parseDuration(s.ProbeTimeout, 2*time.Second)
}

func (s SerialConfig) PollIntervalDuration() time.Duration {
	d := parseDuration(s.PollInterval, 30*time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
