package notify

import (
	"regexp"
	"strings"
)

var (
	mdHeading    = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.*?)\s*#*\s*$`)
	mdRule       = regexp.MustCompile(`^\s{0,3}([-*_])(\s*([-*_]))(\s*([-*_]))[\s\-*_]*$`)
	mdBullet     = regexp.MustCompile(`^(\s*)[-*+]\s+`)
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	mdBoldStar   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdBoldUnder  = regexp.MustCompile(`__(.+?)__`)
	mdItalicStar = regexp.MustCompile(`(^|[^*\w])\*([^*\s][^*]*?)\*([^*\w]|$)`)
	mdStrike     = regexp.MustCompile(`~~(.+?)~~`)
	mdInlineCode = regexp.MustCompile("`[^`]+`")
)

const boldMark = "\x00"

// SlackMarkdown converts Markdown to Slack mrkdwn. Fenced code blocks and
// inline code are left untouched.
func SlackMarkdown(md string) string {
	lines := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			lines[i] = strings.TrimSpace(line)[:3]
			continue
		}
		if inFence {
			continue
		}
		lines[i] = slackLine(line)
	}
	return strings.Join(lines, "\n")
}

func slackLine(line string) string {
	if m := mdHeading.FindStringSubmatch(line); m != nil {
		return "*" + slackInline(m[1]) + "*"
	}
	if mdRule.MatchString(line) {
		return "──────────"
	}
	if m := mdBullet.FindStringSubmatch(line); m != nil {
		return m[1] + "• " + slackInline(line[len(m[0]):])
	}
	return slackInline(line)
}

// slackInline converts inline markup outside of code spans.
func slackInline(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range mdInlineCode.FindAllStringIndex(text, -1) {
		b.WriteString(convertInline(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(convertInline(text[last:]))
	return b.String()
}

func convertInline(s string) string {
	s = mdImage.ReplaceAllString(s, "<$2|$1>")
	s = mdLink.ReplaceAllString(s, "<$2|$1>")
	s = mdBoldStar.ReplaceAllString(s, boldMark+"$1"+boldMark)
	s = mdBoldUnder.ReplaceAllString(s, boldMark+"$1"+boldMark)
	s = mdItalicStar.ReplaceAllString(s, "${1}_${2}_${3}")
	s = mdStrike.ReplaceAllString(s, "~$1~")
	return strings.ReplaceAll(s, boldMark, "*")
}
