package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is an immutable snapshot of the process configuration. It is loaded
// once at startup and shared by reference with every orchestration unit.
type Config struct {
	BrokerHost   string
	BrokerUser   string
	BrokerPass   string
	ClientID     string
	Topics       []string
	WorkTopic    string
	AuditPath    string
	ResultsPath  string
	MetricsAddr  string
	LogLevel     string
	KeyDir       string
	KeyGenerator string
	Destination  string
	SSHUsername  string
	SSHPort      int

	SettleDelay     time.Duration
	HTTPTimeout     time.Duration
	TransferTimeout time.Duration
	MaxConcurrent   int

	Aliases   Table // username -> remote host
	Endpoints Table // username -> authorization base URL
}

// Table is a read-only string map loaded from a YAML or JSON file.
type Table map[string]string

// Lookup returns the value for key and whether it was present.
func (t Table) Lookup(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

// LoadEnv loads variables from the dotenv files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	var errs []error
	str := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	required := func(key string) string {
		v := str(key, "")
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return v
	}
	duration := func(key string, def time.Duration) time.Duration {
		v := str(key, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		v := str(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
			return def
		}
		return n
	}

	cfg := &Config{
		BrokerHost:      required("MQTT_BROKER_HOST"),
		BrokerUser:      str("MQTT_USERNAME", ""),
		BrokerPass:      str("MQTT_PASSWORD", ""),
		ClientID:        str("MQTT_CLIENT_ID", "torrent-sync-"+uuid.NewString()),
		Topics:          splitList(str("MQTT_TOPICS", "torrents")),
		WorkTopic:       str("WORK_TOPIC", "torrents"),
		AuditPath:       str("MQTT_SAVE_PATH", "messages.jsonl"),
		ResultsPath:     str("RESULTS_PATH", ""),
		MetricsAddr:     str("METRICS_ADDR", ""),
		LogLevel:        str("LOG_LEVEL", "info"),
		KeyDir:          required("KEY_FOLDER_PATH"),
		KeyGenerator:    str("KEYGEN", "native"),
		Destination:     required("DESTINATION_PATH"),
		SSHUsername:     required("SSH_USERNAME"),
		SSHPort:         integer("SSH_PORT", 22),
		SettleDelay:     duration("SETTLE_DELAY", 5*time.Second),
		HTTPTimeout:     duration("HTTP_TIMEOUT", 30*time.Second),
		TransferTimeout: duration("TRANSFER_TIMEOUT", 6*time.Hour),
		MaxConcurrent:   integer("MAX_CONCURRENT", 8),
	}

	if cfg.KeyGenerator != "native" && cfg.KeyGenerator != "ssh-keygen" {
		errs = append(errs, fmt.Errorf("KEYGEN: unknown generator %q", cfg.KeyGenerator))
	}

	if p := required("ALIASES_PATH"); p != "" {
		t, err := ReadTable(p)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Aliases = t
	}
	if p := required("ENDPOINTS_PATH"); p != "" {
		t, err := ReadTable(p)
		if err != nil {
			errs = append(errs, err)
		}
		for name, endpoint := range t {
			if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("endpoint for %s: invalid URL %q", name, endpoint))
			}
		}
		cfg.Endpoints = t
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return cfg, nil
}

// ReadTable parses a flat string map from a YAML file. JSON objects are valid
// YAML, so JSON tables load as well.
func ReadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	t := Table{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing table %s: %w", path, err)
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
