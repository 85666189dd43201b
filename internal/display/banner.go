package display

import (
	_ "embed"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

//go:embed banner.txt
var logo string

var (
	onStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#bbf7d0"))
	offStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))
)

// Startup describes what the assistant came up with, for the banner.
type Startup struct {
	VoiceInput bool   // whisper found and loaded
	Speech     bool   // Azure TTS and audio output ready
	Backend    string // Q&A backend shown to the user
}

// RenderBanner returns the logo, a capability line and the input hints,
// centred for the current terminal.
func RenderBanner(s Startup) string {
	return renderBanner(s, termWidth())
}

func renderBanner(s Startup, width int) string {
	rows := strings.Split(strings.TrimRight(logo, "\n"), "\n")
	for i, r := range rows {
		rows[i] = BannerStyle.Render(r)
	}
	rows = append(rows, "",
		capability("语音输入", s.VoiceInput)+sepStyle.Render("  ·  ")+capability("语音朗读", s.Speech),
	)
	if s.Backend != "" {
		rows = append(rows, secondaryStyle.Render("问答服务: "+s.Backend))
	}
	if s.VoiceInput {
		rows = append(rows, BannerStyle.Render("按 Ctrl+T 或输入 /voice 开始说话"))
	}
	rows = append(rows, BannerStyle.Render("输入 /help 查看指令，/quit 退出"))

	return centre(rows, width)
}

func capability(name string, on bool) string {
	if on {
		return labelStyle.Render(name+": ") + onStyle.Render("开启")
	}
	return labelStyle.Render(name+": ") + offStyle.Render("关闭")
}

// centre indents every row by the same amount so the widest one sits in
// the middle. Widths are terminal cells, so CJK rows count double.
func centre(rows []string, width int) string {
	widest := 0
	for _, r := range rows {
		widest = max(widest, lipgloss.Width(r))
	}
	indent := ""
	if width > widest {
		indent = strings.Repeat(" ", (width-widest)/2)
	}

	var b strings.Builder
	for _, r := range rows {
		if r != "" {
			b.WriteString(indent)
			b.WriteString(r)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func termWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}
