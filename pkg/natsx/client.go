package natsx

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/nats-io/nats.go"
)

// DefaultMaxReconnects bounds how often the client re-dials a lost server
// before giving up on the connection.
const DefaultMaxReconnects = 5

// Endpoint describes a NATS server reachable over the network.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// URL renders the endpoint as a nats:// URL. Credentials are carried as options
// rather than in the URL.
func (e Endpoint) URL() string {
	host := e.Host
	if host == "" {
		host = "localhost"
	}
	port := e.Port
	if port == 0 {
		port = nats.DefaultPort
	}
	return (&url.URL{Scheme: "nats", Host: net.JoinHostPort(host, strconv.Itoa(port))}).String()
}

// Options returns the connection options for the endpoint's credentials.
func (e Endpoint) Options() []nats.Option {
	if e.Username == "" && e.Password == "" {
		return nil
	}
	return []nats.Option{nats.UserInfo(e.Username, e.Password)}
}

// URLFromEnv returns NATS_URL when set, otherwise the library default URL.
func URLFromEnv() string {
	if u := os.Getenv("NATS_URL"); u != "" {
		return u
	}
	return nats.DefaultURL
}

// NewClient connects to the server at serverURL. The connection is named, uses
// compression and logs its lifecycle through the given logger. Extra options are
// applied last so callers can override any default.
func NewClient(serverURL, name string, log *slog.Logger, opts ...nats.Option) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default().With(slogx.LoggerName("shuttle.nats"))
	}
	if serverURL == "" {
		serverURL = URLFromEnv()
	}

	base := []nats.Option{
		nats.Name(name),
		nats.Compression(true),
		nats.MaxReconnects(DefaultMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from nats", slogx.Error(err))
				return
			}
			log.Info("disconnected from nats")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to nats", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slogx.Error(err)}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			log.Error("nats async error", attrs...)
		}),
	}

	nc, err := nats.Connect(serverURL, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", serverURL, err)
	}
	return nc, nil
}
