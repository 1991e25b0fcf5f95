package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds everything the console core needs to reach the chat gateway
// and run its timer loops. Intervals are whole seconds so they read the same
// from yaml and from environment overrides.
type Config struct {
	Env      string `yaml:"env" env:"CONSOLE_ENV" env-default:"local"`
	Operator struct {
		ID    string `yaml:"id" env:"OPERATOR_ID" env-default:""`
		Token string `yaml:"token" env:"OPERATOR_TOKEN" env-default:""`
	} `yaml:"operator"`
	Gateway struct {
		BaseURL        string `yaml:"base_url" env:"GATEWAY_BASE_URL" env-default:"http://localhost:8083"`
		ChatWSURL      string `yaml:"chat_ws_url" env:"GATEWAY_CHAT_WS_URL" env-default:"ws://localhost:8083/ws/chat"`
		NotifyWSURL    string `yaml:"notify_ws_url" env:"GATEWAY_NOTIFY_WS_URL" env-default:"ws://localhost:8083/ws/notify"`
		RequestSeconds int    `yaml:"request_seconds" env:"GATEWAY_REQUEST_SECONDS" env-default:"10"`
	} `yaml:"gateway"`
	Transport struct {
		ReconnectSeconds     int `yaml:"reconnect_seconds" env:"TRANSPORT_RECONNECT_SECONDS" env-default:"5"`
		MaxReconnectAttempts int `yaml:"max_reconnect_attempts" env:"TRANSPORT_MAX_RECONNECT_ATTEMPTS" env-default:"10"`
		HandshakeSeconds     int `yaml:"handshake_seconds" env:"TRANSPORT_HANDSHAKE_SECONDS" env-default:"10"`
	} `yaml:"transport"`
	Intervals struct {
		SessionRefreshSeconds  int `yaml:"session_refresh_seconds" env:"INTERVAL_SESSION_REFRESH" env-default:"10"`
		TimeoutPollSeconds     int `yaml:"timeout_poll_seconds" env:"INTERVAL_TIMEOUT_POLL" env-default:"10"`
		MessagePollSeconds     int `yaml:"message_poll_seconds" env:"INTERVAL_MESSAGE_POLL" env-default:"30"`
		PostSendRecheckSeconds int `yaml:"post_send_recheck_seconds" env:"INTERVAL_POST_SEND_RECHECK" env-default:"1"`
		BannerSeconds          int `yaml:"banner_seconds" env:"INTERVAL_BANNER" env-default:"3"`
	} `yaml:"intervals"`
	AMQP struct {
		URL        string `yaml:"url" env:"AMQP_URL" env-default:""`
		Exchange   string `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"console.audit"`
		RoutingKey string `yaml:"routing_key" env:"AMQP_ROUTING_KEY" env-default:"audit.operator"`
	} `yaml:"amqp"`
	Otel struct {
		Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	} `yaml:"otel"`
	Listen struct {
		Addr        string `yaml:"addr" env:"LISTEN_ADDR" env-default:"127.0.0.1:9109"`
		DebugRoutes bool   `yaml:"debug_routes" env:"LISTEN_DEBUG_ROUTES" env-default:"false"`
	} `yaml:"listen"`
}

var instance *Config
var once sync.Once

// MustLoad reads the config once for the process lifetime and exits on
// failure. An empty path reads environment variables only.
func MustLoad(path string) *Config {
	once.Do(func() {
		conf, err := Load(path)
		if err != nil {
			log.Fatal(err)
		}
		instance = conf
	})
	return instance
}

// Load reads configuration from the given yaml file, falling back to
// environment variables when the path is empty.
func Load(path string) (*Config, error) {
	conf := &Config{}
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(conf)
	} else {
		err = cleanenv.ReadConfig(path, conf)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("%w; %s", err, desc)
	}
	return conf, nil
}

func (c *Config) GatewayRequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestSeconds) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Transport.ReconnectSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Transport.HandshakeSeconds) * time.Second
}

func (c *Config) SessionRefreshInterval() time.Duration {
	return time.Duration(c.Intervals.SessionRefreshSeconds) * time.Second
}

func (c *Config) TimeoutPollInterval() time.Duration {
	return time.Duration(c.Intervals.TimeoutPollSeconds) * time.Second
}

func (c *Config) MessagePollInterval() time.Duration {
	return time.Duration(c.Intervals.MessagePollSeconds) * time.Second
}

func (c *Config) PostSendRecheckDelay() time.Duration {
	return time.Duration(c.Intervals.PostSendRecheckSeconds) * time.Second
}

func (c *Config) BannerTTL() time.Duration {
	return time.Duration(c.Intervals.BannerSeconds) * time.Second
}
