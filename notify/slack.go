package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/shuttle/pkg/slogx"
	slackgo "github.com/slack-go/slack"
)

// SlackConfig configures the team chat channel. Every field is required.
type SlackConfig struct {
	AgentDescription string `yaml:"agent_description"`
	BotToken         string `yaml:"bot_token"`
	ChannelName      string `yaml:"channel_name"`
	// APIURL overrides the Slack API endpoint.
	APIURL string `yaml:"api_url,omitempty"`
}

// Validate reports every missing field.
func (c SlackConfig) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"agent_description", c.AgentDescription},
		{"bot_token", c.BotToken},
		{"channel_name", c.ChannelName},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%w: slack %s is required", ErrInvalidConfig, f.name))
		}
	}
	return errors.Join(errs...)
}

// Slack posts notifications to a Slack channel.
type Slack struct {
	channel string
	header  Header
	client  *slackgo.Client
	log     *slog.Logger
}

// NewSlack validates cfg and creates the channel.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var options []slackgo.Option
	if cfg.APIURL != "" {
		options = append(options, slackgo.OptionAPIURL(strings.TrimRight(cfg.APIURL, "/")+"/"))
	}
	return &Slack{
		channel: cfg.ChannelName,
		header:  NewHeader(cfg.AgentDescription),
		client:  slackgo.New(cfg.BotToken, options...),
		log:     slog.Default().With(slogx.LoggerName("shuttle.notify.slack")),
	}, nil
}

func (s *Slack) Name() string { return "SlackNotificationChannel" }

func (s *Slack) Fire(ctx context.Context, body string) bool {
	text := SlackMarkdown(s.header.Markdown(body))
	channelID, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slackgo.MsgOptionText(text, false),
		slackgo.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		s.log.Warn("failed to send slack notification", slog.String("slack_channel", s.channel), slogx.Error(err))
		return false
	}
	s.log.Info("slack notification sent", slog.String("slack_channel", channelID), slog.String("ts", ts))
	return true
}
