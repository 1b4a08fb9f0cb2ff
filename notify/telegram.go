package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/casualjim/shuttle/pkg/slogx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

const (
	// telegramMessageLimit is the maximum length of a single Telegram message.
	telegramMessageLimit = 4096
	// DefaultTelegramRate is the number of messages per second sent to one chat.
	DefaultTelegramRate = 1
)

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	AgentDescription string `yaml:"agent_description"`
	BotToken         string `yaml:"bot_token"`
	ChatID           int64  `yaml:"chat_id"`
	// APIEndpoint overrides the bot API endpoint, for example
	// "https://api.telegram.org/bot%s/%s".
	APIEndpoint string `yaml:"api_endpoint,omitempty"`
	// RatePerSec paces the messages sent to the chat, defaults to DefaultTelegramRate.
	RatePerSec int `yaml:"rate_per_sec,omitempty"`
}

// Validate reports every missing field.
func (c TelegramConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AgentDescription) == "" {
		errs = append(errs, fmt.Errorf("%w: telegram agent_description is required", ErrInvalidConfig))
	}
	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, fmt.Errorf("%w: telegram bot_token is required", ErrInvalidConfig))
	}
	if c.ChatID == 0 {
		errs = append(errs, fmt.Errorf("%w: telegram chat_id is required", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Telegram sends notifications to a Telegram chat. The bot is created on the
// first notification so construction does not need the network.
type Telegram struct {
	cfg     TelegramConfig
	header  Header
	limiter *rate.Limiter
	log     *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram validates cfg and creates the channel.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultTelegramRate
	}
	return &Telegram{
		cfg:     cfg,
		header:  NewHeader(cfg.AgentDescription),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     slog.Default().With(slogx.LoggerName("shuttle.notify.telegram")),
	}, nil
}

func (t *Telegram) Name() string { return "TelegramNotificationChannel" }

func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.cfg.BotToken, t.cfg.APIEndpoint)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Fire(ctx context.Context, body string) bool {
	if err := ctx.Err(); err != nil {
		t.log.Warn("telegram notification cancelled", slogx.Error(err))
		return false
	}
	bot, err := t.botAPI()
	if err != nil {
		t.log.Warn("failed to create telegram bot", slogx.Error(err))
		return false
	}

	for _, chunk := range splitMessage(t.header.Markdown(body), telegramMessageLimit) {
		if err := t.limiter.Wait(ctx); err != nil {
			t.log.Warn("telegram notification cancelled", slogx.Error(err))
			return false
		}
		msg := tgbotapi.NewMessage(t.cfg.ChatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := bot.Send(msg); err != nil {
			// Telegram rejects Markdown it cannot parse, resend the chunk as plain text.
			msg.ParseMode = ""
			if _, err := bot.Send(msg); err != nil {
				t.log.Warn("failed to send telegram notification", slog.Int64("chat_id", t.cfg.ChatID), slogx.Error(err))
				return false
			}
		}
	}
	t.log.Info("telegram notification sent", slog.Int64("chat_id", t.cfg.ChatID))
	return true
}

// splitMessage cuts s into chunks of at most limit characters, preferring line breaks.
func splitMessage(s string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		cut := limit
		if i := strings.LastIndex(string(runes[:limit]), "\n"); i > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:i])
		}
		chunks = append(chunks, string(runes[:cut]))
		s = strings.TrimLeft(string(runes[cut:]), "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
