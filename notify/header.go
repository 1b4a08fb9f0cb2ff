package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	// TimestampLayout formats the UTC timestamp in the header.
	TimestampLayout = "02/01/2006 - 15:04:05"
	// DescriptionLimit is the number of characters of the agent description shown.
	DescriptionLimit = 100
	// PortalURL is linked from the footer.
	PortalURL = "https://agentdatashuttle.knowyours.co"
	// Title is the heading of every notification.
	Title = "🚀 Notification from ADS (Agent Data Shuttle)"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Header decorates a response with the notification header and footer.
type Header struct {
	AgentDescription string
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewHeader creates a header for the given agent.
func NewHeader(agentDescription string) Header {
	return Header{AgentDescription: agentDescription}
}

func (h Header) timestamp() string {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return now().UTC().Format(TimestampLayout)
}

func (h Header) description() string {
	return Ellipsis(h.AgentDescription, DescriptionLimit)
}

// Ellipsis keeps the first limit characters of s and appends "..." when it is longer.
func Ellipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// Markdown renders body with the header as Markdown.
func (h Header) Markdown(body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", Title)
	fmt.Fprintf(&b, "**Timestamp (UTC):** %s\n\n", h.timestamp())
	fmt.Fprintf(&b, "**Triggered Agent's Description:** %s\n\n", h.description())
	b.WriteString("---\n\n### Execution Summary\n\n\n")
	b.WriteString(body)
	b.WriteString("\n\n---\n\n")
	b.WriteString("> Sent by **Agent Data Shuttle**\n\n")
	fmt.Fprintf(&b, "> See more about ADS on _%s_\n\n", PortalURL)
	return b.String()
}

// HTML renders body as an HTML email. The body is treated as Markdown and
// shown preformatted when it cannot be converted.
func (h Header) HTML(body string) string {
	var converted bytes.Buffer
	var content template.HTML
	if err := markdown.Convert([]byte(body), &converted); err != nil {
		slog.Default().With(slogx.LoggerName("shuttle.notify")).
			Error("failed to convert markdown to html", slogx.Error(err))
		content = template.HTML("<pre>" + template.HTMLEscapeString(body) + "</pre>") //nolint:gosec
	} else {
		content = template.HTML(converted.String()) //nolint:gosec
	}

	var out strings.Builder
	if err := emailTemplate.Execute(&out, emailData{
		Title:       Title,
		Timestamp:   h.timestamp(),
		Description: h.description(),
		Body:        content,
		PortalURL:   PortalURL,
	}); err != nil {
		return "<pre>" + template.HTMLEscapeString(h.Markdown(body)) + "</pre>"
	}
	return out.String()
}

type emailData struct {
	Title       string
	Timestamp   string
	Description string
	Body        template.HTML
	PortalURL   string
}

var emailTemplate = template.Must(template.New("email").Option("missingkey=error").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8">
    <title>ADS Notification</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
      @media only screen and (max-width: 640px) {
        .container { width: 90% !important; padding: 24px !important; }
        .header { padding: 20px !important; font-size: 20px !important; }
      }
    </style>
  </head>
  <body style="margin:0; padding:0; background-color:#f5f5f7; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif;">
    <table role="presentation" width="100%" cellspacing="0" cellpadding="0" border="0" bgcolor="#f5f5f7">
      <tr>
        <td align="center" style="padding: 30px 10px;">
          <table role="presentation" class="container" width="720" cellspacing="0" cellpadding="0" border="0" style="background: #ffffff; border-radius: 12px; overflow: hidden; width: 720px; max-width: 95%;">
            <tr>
              <td class="header" style="background: #1c1c1e; padding: 24px 32px; color: #f5f5f7; font-size: 22px; font-weight: 600;">{{ .Title }}</td>
            </tr>
            <tr>
              <td style="padding: 28px 40px; color: #1c1c1e;">
                <p style="margin: 0 0 10px; font-size: 14px; color: #555;"><strong style="color:#1c1c1e;">Timestamp (UTC):</strong> {{ .Timestamp }}</p>
                <p style="margin: 0 0 20px; font-size: 14px; color: #555;"><strong style="color:#1c1c1e;">Triggered Agent's Description:</strong> {{ .Description }}</p>
                <div style="border-top: 1px solid #e0e0e0; margin: 20px 0;"></div>
                <h3 style="margin: 0 0 16px; font-size: 18px; font-weight: 500; color: #1c1c1e;">Execution Summary</h3>
                <div style="background: #f2f2f2; padding: 16px 20px; border-radius: 8px; font-size: 14px; line-height: 1.6; color: #333;">
                  {{ .Body }}
                </div>
                <div style="border-top: 1px solid #e0e0e0; margin: 20px 0;"></div>
                <p style="font-size: 12px; color: #888; margin: 0 0 4px;">Sent by <strong>Agent Data Shuttle</strong></p>
                <p style="font-size: 12px; color: #888; margin: 0;">See more about ADS on <em>{{ .PortalURL }}</em></p>
              </td>
            </tr>
          </table>
        </td>
      </tr>
    </table>
  </body>
</html>
`))
