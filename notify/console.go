package notify

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/charmbracelet/glamour"
)

// Console renders notifications as styled Markdown on a terminal.
type Console struct {
	header Header
	style  string
	log    *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewConsole writes to out, or stdout when out is nil. style is a glamour
// style name such as "dark", "light" or "notty"; empty selects one from the
// terminal.
func NewConsole(agentDescription string, out io.Writer, style string) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		header: NewHeader(agentDescription),
		style:  style,
		out:    out,
		log:    slog.Default().With(slogx.LoggerName("shuttle.notify.console")),
	}
}

func (c *Console) Name() string { return "ConsoleNotificationChannel" }

func (c *Console) Fire(_ context.Context, body string) bool {
	styleOpt := glamour.WithAutoStyle()
	if c.style != "" {
		styleOpt = glamour.WithStandardStyle(c.style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(100))
	if err != nil {
		c.log.Warn("failed to create markdown renderer", slogx.Error(err))
		return false
	}
	rendered, err := renderer.Render(c.header.Markdown(body))
	if err != nil {
		c.log.Warn("failed to render notification", slogx.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, rendered); err != nil {
		c.log.Warn("failed to write notification", slogx.Error(err))
		return false
	}
	return true
}
