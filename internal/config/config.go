// Package config loads the YAML configuration of the shuttle processes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/casualjim/shuttle/bridge"
	"github.com/casualjim/shuttle/notify"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/casualjim/shuttle/pkg/tprl"
	"github.com/casualjim/shuttle/publisher"
	"github.com/casualjim/shuttle/queue"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Queue backends.
const (
	BackendJetStream = "jetstream"
	BackendTemporal  = "temporal"
	BackendLocal     = "local"
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel         string            `yaml:"log_level"`
	AgentDescription string            `yaml:"agent_description"`
	Agent            AgentConfig       `yaml:"agent"`
	Connectors       []ConnectorConfig `yaml:"connectors"`
	Queue            QueueConfig       `yaml:"queue"`
	Channels         ChannelsConfig    `yaml:"channels"`
	Publisher        PublisherConfig   `yaml:"publisher"`
	Relay            RelayConfig       `yaml:"relay"`
	Status           StatusConfig      `yaml:"status"`
}

// AgentConfig configures the built-in OpenAI agent and the prompt contextualizer.
type AgentConfig struct {
	Name         string  `yaml:"name"`
	Model        string  `yaml:"model"`
	Instructions string  `yaml:"instructions"`
	Temperature  float64 `yaml:"temperature"`
	Stream       bool    `yaml:"stream"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	// ContextModel is the model that phrases invocation prompts, defaults to Model.
	ContextModel string `yaml:"context_model"`
}

// ConnectorConfig names a bridge and the event to listen for.
type ConnectorConfig struct {
	Name          string `yaml:"name"`
	Event         string `yaml:"event"`
	bridge.Params `yaml:",inline"`
}

// QueueConfig locates the job queue backing store.
type QueueConfig struct {
	Backend  string         `yaml:"backend"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Name     string         `yaml:"name"`
	Temporal TemporalConfig `yaml:"temporal"`
}

// Endpoint returns the NATS endpoint of the queue.
func (q QueueConfig) Endpoint() natsx.Endpoint {
	return natsx.Endpoint{Host: q.Host, Port: q.Port, Username: q.Username, Password: q.Password}
}

// TemporalConfig locates the temporal frontend used by the temporal backend.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// ChannelsConfig enables notification channels. A nil entry is disabled.
type ChannelsConfig struct {
	Email    *notify.EmailConfig    `yaml:"email"`
	Slack    *notify.SlackConfig    `yaml:"slack"`
	Telegram *notify.TelegramConfig `yaml:"telegram"`
	Console  *ConsoleConfig         `yaml:"console"`
}

// ConsoleConfig enables terminal notifications.
type ConsoleConfig struct {
	Style string `yaml:"style"`
}

// PublisherConfig locates the broker producers publish to.
type PublisherConfig struct {
	Name             string `yaml:"name"`
	Queue            string `yaml:"queue"`
	publisher.Params `yaml:",inline"`
}

// RelayConfig moves events from the broker stream onto the bridge.
type RelayConfig struct {
	BrokerQueue string `yaml:"broker_queue"`
	Consumer    string `yaml:"consumer"`
	PathPrefix  string `yaml:"path_prefix"`
	Event       string `yaml:"event"`
}

// StatusConfig enables the HTTP status endpoint when Addr is set.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		LogLevel: envOr("LOG_LEVEL", "info"),
		Agent: AgentConfig{
			Name:        "default",
			Temperature: 0.1,
		},
		Queue: QueueConfig{
			Backend: BackendJetStream,
			Name:    queue.DefaultName,
			Temporal: TemporalConfig{
				HostPort:  tprl.HostPortFromEnv(),
				Namespace: "default",
			},
		},
		Publisher: PublisherConfig{
			Name:  "shuttle-publisher",
			Queue: bridge.DefaultBrokerQueue,
		},
		Relay: RelayConfig{
			BrokerQueue: bridge.DefaultBrokerQueue,
			Consumer:    bridge.DefaultRelayConsumer,
			PathPrefix:  bridge.DefaultPathPrefix,
			Event:       bridge.DefaultEvent,
		},
	}
}

// Load reads path, expands ${VAR} and ${VAR:-default} references from the
// environment and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(Expand(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Expand replaces ${VAR} and ${VAR:-default} with values from the environment.
func Expand(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return fallback
		}
		return ""
	})
}

func (c *Config) applyDefaults() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendJetStream
	}
	if c.Queue.Host == "" && c.Queue.Backend == BackendJetStream {
		c.Queue.Host, c.Queue.Port = hostPortFromURL(natsx.URLFromEnv())
	}
	if c.Agent.ContextModel == "" {
		c.Agent.ContextModel = c.Agent.Model
	}

	for i := range c.Connectors {
		if c.Connectors[i].Event == "" {
			c.Connectors[i].Event = bridge.DefaultEvent
		}
		if c.Connectors[i].Name == "" {
			c.Connectors[i].Name = fmt.Sprintf("connector-%d", i+1)
		}
	}

	desc := c.AgentDescription
	if ch := c.Channels.Email; ch != nil && ch.AgentDescription == "" {
		ch.AgentDescription = desc
	}
	if ch := c.Channels.Slack; ch != nil && ch.AgentDescription == "" {
		ch.AgentDescription = desc
	}
	if ch := c.Channels.Telegram; ch != nil && ch.AgentDescription == "" {
		ch.AgentDescription = desc
	}
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error
	switch c.Queue.Backend {
	case BackendJetStream, BackendLocal:
	case BackendTemporal:
		if c.Queue.Temporal.HostPort == "" {
			errs = append(errs, fmt.Errorf("%w: queue.temporal.host_port is required", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown queue backend %q", ErrInvalid, c.Queue.Backend))
	}
	if c.Queue.Port < 0 || c.Queue.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: queue.port %d is out of range", ErrInvalid, c.Queue.Port))
	}

	seen := map[string]bool{}
	for i, conn := range c.Connectors {
		if conn.ConnectionString == "" {
			errs = append(errs, fmt.Errorf("%w: connectors[%d].connection_string is required", ErrInvalid, i))
		}
		if seen[conn.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate connector name %q", ErrInvalid, conn.Name))
		}
		seen[conn.Name] = true
	}

	if ch := c.Channels.Email; ch != nil {
		errs = append(errs, ch.Validate())
	}
	if ch := c.Channels.Slack; ch != nil {
		errs = append(errs, ch.Validate())
	}
	if ch := c.Channels.Telegram; ch != nil {
		errs = append(errs, ch.Validate())
	}
	return errors.Join(errs...)
}

// ValidateSubscriber checks what the subscribe command needs on top of Validate.
func (c *Config) ValidateSubscriber() error {
	var errs []error
	if strings.TrimSpace(c.AgentDescription) == "" {
		errs = append(errs, fmt.Errorf("%w: agent_description is required", ErrInvalid))
	}
	if len(c.Connectors) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one connector is required", ErrInvalid))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostPortFromURL(raw string) (string, int) {
	raw = strings.TrimPrefix(raw, "nats://")
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.IndexAny(raw, ",/"); i >= 0 {
		raw = raw[:i]
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return raw, 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}
	return host, p
}
