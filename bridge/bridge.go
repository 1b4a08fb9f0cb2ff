package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultPathPrefix is where the bridge is mounted when no prefix is configured.
	DefaultPathPrefix = "/ads_bridge"
	// DefaultEvent is the event the bridge emits for every published payload.
	DefaultEvent = "ads_event_published"
)

var (
	// ErrNotConnected is returned when a callback is registered before Connect.
	ErrNotConnected = errors.New("bridge is not connected")
	// ErrAlreadyRegistered is returned for a second callback on the same event.
	ErrAlreadyRegistered = errors.New("callback already registered for event")
	// ErrUnsupportedScheme is returned by New for unknown connection strings.
	ErrUnsupportedScheme = errors.New("unsupported bridge scheme")
)

// Callback receives the raw data of one event.
type Callback func(ctx context.Context, data []byte)

// Client is a connection to a bridge.
type Client interface {
	// Connect returns once the first connection succeeded.
	Connect(ctx context.Context) error
	// Disconnect closes the connection and forgets all callbacks.
	Disconnect(ctx context.Context) error
	// IsConnected reports whether the connection is currently up.
	IsConnected() bool
	// OnEvent registers the single callback for eventName.
	OnEvent(eventName string, cb Callback) error
}

// Params configure a bridge client.
type Params struct {
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	PathPrefix       string `yaml:"path_prefix,omitempty" json:"path_prefix,omitempty"`
	PoolID           string `yaml:"pool_id,omitempty" json:"pool_id,omitempty"`
}

// Prefix returns the configured path prefix or the default one.
func (p Params) Prefix() string {
	prefix := strings.TrimRight(p.PathPrefix, "/")
	if prefix == "" {
		return DefaultPathPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Subject returns the NATS subject an event is delivered on.
func (p Params) Subject(eventName string) string {
	return SubjectPrefix(p.Prefix()) + "." + eventName
}

// SubjectPrefix turns a path prefix such as "/ads_bridge" into a subject prefix.
func SubjectPrefix(pathPrefix string) string {
	trimmed := strings.Trim(pathPrefix, "/")
	if trimmed == "" {
		trimmed = strings.Trim(DefaultPathPrefix, "/")
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

// New creates a client for the transport named by the connection string scheme.
func New(params Params) (Client, error) {
	if params.ConnectionString == "" {
		return nil, errors.New("bridge connection string is required")
	}
	u, err := url.Parse(params.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge connection string: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "nats", "tls":
		return NewNATS(params), nil
	case "ws", "wss":
		return NewWebSocket(params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
