// Package config loads settings for the live client and the relay from an
// optional YAML file, an optional .env file and the environment. Environment
// variables win.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

var ErrMissing = errors.New("missing config")

type Client struct {
	SocketURL    string        `yaml:"socket_url"`
	APIURL       string        `yaml:"api_url"`
	Token        string        `yaml:"token"`
	Email        string        `yaml:"email"`
	Password     string        `yaml:"password"`
	TaskRooms    []string      `yaml:"task_rooms"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ToastDelay   time.Duration `yaml:"toast_delay"`
	HistoryLimit int           `yaml:"history_limit"`
	Debug        bool          `yaml:"debug"`
}

type Relay struct {
	Addr string `yaml:"addr"`
	// PublishToken guards POST /events; empty disables the endpoint.
	PublishToken string `yaml:"publish_token"`

	RedisConnectionString string `yaml:"redis_connection_string"`
	UpdatesChannel        string `yaml:"updates_channel"`

	QueueConnectionString string        `yaml:"queue_connection_string"`
	QueueName             string        `yaml:"queue_name"`
	QueuePollInterval     time.Duration `yaml:"queue_poll_interval"`

	TestMode     bool   `yaml:"test_mode"`
	TestSecret   string `yaml:"test_secret"`
	AuthAudience string `yaml:"auth_audience"`
	AuthDomain   string `yaml:"auth_domain"`

	Debug bool `yaml:"debug"`
}

type file struct {
	Client Client `yaml:"client"`
	Relay  Relay  `yaml:"relay"`
}

func DefaultClient() Client {
	return Client{
		SocketURL:    "ws://localhost:3001/ws",
		APIURL:       "http://localhost:3001/api",
		MaxAttempts:  5,
		RetryDelay:   time.Second,
		DialTimeout:  10 * time.Second,
		ToastDelay:   5 * time.Second,
		HistoryLimit: 10,
	}
}

func DefaultRelay() Relay {
	return Relay{
		Addr:              ":3001",
		UpdatesChannel:    "task-events",
		QueuePollInterval: time.Second,
	}
}

// LoadClient reads the client settings.
func LoadClient() (Client, error) {
	f, err := load()
	if err != nil {
		return Client{}, err
	}
	cfg := DefaultClient()
	overlayClient(&cfg, f.Client)

	cfg.SocketURL = envStr("LIVE_SOCKET_URL", cfg.SocketURL)
	cfg.APIURL = envStr("LIVE_API_URL", cfg.APIURL)
	cfg.Token = envStr("LIVE_TOKEN", cfg.Token)
	cfg.Email = envStr("LIVE_EMAIL", cfg.Email)
	cfg.Password = envStr("LIVE_PASSWORD", cfg.Password)
	if v := os.Getenv("LIVE_TASK_ROOMS"); v != "" {
		cfg.TaskRooms = splitList(v)
	}
	if cfg.MaxAttempts, err = envInt("LIVE_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return Client{}, err
	}
	if cfg.RetryDelay, err = envDur("LIVE_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return Client{}, err
	}
	if cfg.DialTimeout, err = envDur("LIVE_DIAL_TIMEOUT", cfg.DialTimeout); err != nil {
		return Client{}, err
	}
	if cfg.ToastDelay, err = envDur("LIVE_TOAST_DELAY", cfg.ToastDelay); err != nil {
		return Client{}, err
	}
	if cfg.HistoryLimit, err = envInt("LIVE_HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return Client{}, err
	}
	cfg.Debug = envBool("DEBUG", cfg.Debug)

	if cfg.SocketURL == "" {
		return Client{}, fmt.Errorf("%w: LIVE_SOCKET_URL", ErrMissing)
	}
	return cfg, nil
}

// LoadRelay reads the relay settings and checks the auth configuration.
func LoadRelay() (Relay, error) {
	cfg, err := LoadPublisher()
	if err != nil {
		return Relay{}, err
	}
	if cfg.TestMode && cfg.TestSecret == "" {
		return Relay{}, fmt.Errorf("%w: TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1", ErrMissing)
	}
	if !cfg.TestMode && (cfg.AuthAudience == "" || cfg.AuthDomain == "") {
		return Relay{}, fmt.Errorf("%w: Auth0 audience and domain", ErrMissing)
	}
	return cfg, nil
}

// LoadPublisher reads the relay settings without requiring auth, for tools
// that only feed the relay's event sources.
func LoadPublisher() (Relay, error) {
	f, err := load()
	if err != nil {
		return Relay{}, err
	}
	cfg := DefaultRelay()
	overlayRelay(&cfg, f.Relay)

	if v := os.Getenv("RELAY_PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	cfg.PublishToken = envStr("RELAY_PUBLISH_TOKEN", cfg.PublishToken)
	cfg.RedisConnectionString = envStr("REDIS_CONNECTION_STRING", cfg.RedisConnectionString)
	cfg.UpdatesChannel = envStr("TASK_EVENTS_CHANNEL", cfg.UpdatesChannel)
	cfg.QueueConnectionString = envStr("STORAGE_CONNECTION_STRING", cfg.QueueConnectionString)
	cfg.QueueName = envStr("TASK_EVENTS_QUEUE", cfg.QueueName)
	if cfg.QueuePollInterval, err = envDur("QUEUE_POLL_INTERVAL", cfg.QueuePollInterval); err != nil {
		return Relay{}, err
	}
	if v := os.Getenv("AUTH0_TEST_MODE"); v != "" {
		cfg.TestMode = v == "1"
	}
	cfg.TestSecret = envStr("TEST_JWT_SECRET", cfg.TestSecret)
	cfg.AuthAudience = envStr("AUTH0_AUDIENCE", cfg.AuthAudience)
	cfg.AuthDomain = envStr("AUTH0_DOMAIN", cfg.AuthDomain)
	cfg.Debug = envBool("DEBUG", cfg.Debug)
	return cfg, nil
}

// load applies the .env file named by LIVE_ENV_FILE (default .env) and reads
// the YAML file named by LIVE_CONFIG_FILE. Both are optional.
func load() (file, error) {
	envFile := envStr("LIVE_ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return file{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var f file
	path := os.Getenv("LIVE_CONFIG_FILE")
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return file{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return file{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func overlayClient(dst *Client, src Client) {
	setStr(&dst.SocketURL, src.SocketURL)
	setStr(&dst.APIURL, src.APIURL)
	setStr(&dst.Token, src.Token)
	setStr(&dst.Email, src.Email)
	setStr(&dst.Password, src.Password)
	if len(src.TaskRooms) > 0 {
		dst.TaskRooms = src.TaskRooms
	}
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	setDur(&dst.RetryDelay, src.RetryDelay)
	setDur(&dst.DialTimeout, src.DialTimeout)
	setDur(&dst.ToastDelay, src.ToastDelay)
	if src.HistoryLimit > 0 {
		dst.HistoryLimit = src.HistoryLimit
	}
	dst.Debug = dst.Debug || src.Debug
}

func overlayRelay(dst *Relay, src Relay) {
	setStr(&dst.Addr, src.Addr)
	setStr(&dst.PublishToken, src.PublishToken)
	setStr(&dst.RedisConnectionString, src.RedisConnectionString)
	setStr(&dst.UpdatesChannel, src.UpdatesChannel)
	setStr(&dst.QueueConnectionString, src.QueueConnectionString)
	setStr(&dst.QueueName, src.QueueName)
	setDur(&dst.QueuePollInterval, src.QueuePollInterval)
	dst.TestMode = dst.TestMode || src.TestMode
	setStr(&dst.TestSecret, src.TestSecret)
	setStr(&dst.AuthAudience, src.AuthAudience)
	setStr(&dst.AuthDomain, src.AuthDomain)
	dst.Debug = dst.Debug || src.Debug
}

// RedisOptions accepts a redis:// URL or the Azure form
// "host:port,password=...,ssl=True".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("%w: redis connection string", ErrMissing)
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDur(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
