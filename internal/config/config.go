package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	LogLevel   string `mapstructure:"log_level"`
	// PionLogLevel applies to pion's internal ICE/DTLS/SCTP logs.
	PionLogLevel string `mapstructure:"pion_log_level"`

	SignalURL string `mapstructure:"signal_url"`
	Call      string `mapstructure:"call"`
	UserID    string `mapstructure:"user_id"`
	Nickname  string `mapstructure:"nickname"`
	Room      string `mapstructure:"room"`

	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
	PublishAudio bool          `mapstructure:"publish_audio"`
	MuteAfter    time.Duration `mapstructure:"mute_after"`
	SendPolicy   string        `mapstructure:"send_policy"`

	ChatHistory int   `mapstructure:"chat_history"`
	MaxFileSize int64 `mapstructure:"max_file_size"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	QueueSize  int           `mapstructure:"queue_size"`
}

// WebRTCServers converts the configured servers. An empty list yields the
// public STUN default.
func (c *Config) WebRTCServers() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return nil
	}
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		// Credential must stay nil for STUN entries.
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("pion_log_level", "warn")
	v.SetDefault("signal_url", "ws://localhost:3000/ws")
	v.SetDefault("call", "default")
	v.SetDefault("user_id", "")
	v.SetDefault("nickname", "")
	v.SetDefault("room", "")
	v.SetDefault("publish_audio", false)
	v.SetDefault("mute_after", "3s")
	v.SetDefault("send_policy", "log")
	v.SetDefault("chat_history", 500)
	v.SetDefault("max_file_size", 16<<20)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("queue_size", 256)
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":       "port",
	"signal-url": "signal_url",
	"call":       "call",
	"nickname":   "nickname",
	"room":       "room",
	"publish":    "publish_audio",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voicemesh", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 0, "UI listen port")
	fs.String("signal-url", "", "rendezvous websocket URL")
	fs.String("call", "", "call to join")
	fs.String("nickname", "", "initial nickname")
	fs.String("room", "", "initial room")
	fs.Bool("publish", false, "publish microphone audio")
	return fs
}

// Load parses args and reads the config file they name, or the one picked
// by CONFIG_ENV.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	return load(fileName, fs)
}

// LoadFile reads fileName over the defaults. A missing file is not an
// error. VOICEMESH_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	return load(fileName, nil)
}

func load(fileName string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("voicemesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if fs != nil {
		for name, key := range flagKeys {
			if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("call", cfg.Call).
		Str("user_id", cfg.UserID).
		Msg("config ready")
	return &cfg, nil
}
