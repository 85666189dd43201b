package display

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
)

func TestStatusBarFollowsPoll(t *testing.T) {
	status := Status{Page: domain.PageHerbs, Voice: domain.VoiceListening}
	u := NewUI(func() Status { return status })
	m := u.newModel()

	next, _ := m.Update(tickMsg(time.Now()))
	view := next.(model).View()
	for _, want := range []string{"中药图鉴", "聆听中"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	status = Status{Page: domain.PagePlan, Voice: domain.VoiceSpeaking}
	next, _ = next.Update(tickMsg(time.Now()))
	if view := next.(model).View(); !strings.Contains(view, "朗读中") || !strings.Contains(view, "康养方案") {
		t.Fatalf("view not refreshed:\n%s", view)
	}
}

func TestVoiceLabel(t *testing.T) {
	tests := []struct {
		state domain.VoiceState
		want  string
	}{
		{domain.VoiceIdle, "空闲"},
		{domain.VoiceListening, "聆听中"},
		{domain.VoiceSpeaking, "朗读中"},
	}
	for _, tt := range tests {
		if got := voiceLabel(tt.state); got != tt.want {
			t.Errorf("voiceLabel(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	var toggled, stopped int
	u := NewUI(func() Status { return Status{} },
		WithToggleKey(func() { toggled++ }),
		WithStopKey(func() { stopped++ }),
	)
	m := u.newModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	cmd()
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	cmd()
	if toggled != 1 || stopped != 1 {
		t.Fatalf("toggled=%d stopped=%d", toggled, stopped)
	}
}

func TestEnterSendsInput(t *testing.T) {
	u := NewUI(func() Status { return Status{} })
	m := u.newModel()
	m.echoFn = func(string) {}

	m.input.SetValue("搜索 人参")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	select {
	case got := <-u.InputChan():
		if got != "搜索 人参" {
			t.Fatalf("got %q", got)
		}
	default:
		t.Fatal("no input delivered")
	}
	if next.(model).input.Value() != "" {
		t.Fatal("input not reset")
	}

	m.input.SetValue("   ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	select {
	case got := <-u.InputChan():
		t.Fatalf("blank line delivered: %q", got)
	default:
	}
}

func TestBannerReportsStartup(t *testing.T) {
	out := renderBanner(Startup{VoiceInput: true, Backend: "http://qa.local"}, 120)
	for _, want := range []string{"语音输入: 开启", "语音朗读: 关闭", "http://qa.local", "Ctrl+T", "/help"} {
		if !strings.Contains(out, want) {
			t.Fatalf("banner missing %q:\n%s", want, out)
		}
	}

	out = renderBanner(Startup{Speech: true}, 120)
	if strings.Contains(out, "Ctrl+T") || strings.Contains(out, "问答服务") {
		t.Fatalf("banner should omit voice hint and backend:\n%s", out)
	}
}

func TestCentre(t *testing.T) {
	tests := []struct {
		name  string
		rows  []string
		width int
		want  string
	}{
		{"ascii", []string{"ab", "abcd"}, 10, "   ab\n   abcd\n"},
		{"cjk counts double", []string{"中医"}, 8, "  中医\n"},
		{"blank rows stay blank", []string{"ab", "", "ab"}, 6, "  ab\n\n  ab\n"},
		{"narrow terminal", []string{"abcdef"}, 4, "abcdef\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := centre(tt.rows, tt.width); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
