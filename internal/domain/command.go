package domain

import "fmt"

// PageID identifies the page (feature area) the user is on. Voice commands
// are interpreted relative to it.
type PageID string

const (
	PageIndex      PageID = "index"
	PageHerbs      PageID = "herbs"
	PageAIDoctor   PageID = "ai_doctor"
	PagePlan       PageID = "plan"
	PageEvaluation PageID = "evaluation"
	PageAbout      PageID = "about"
)

// Title returns the page's display name.
func (p PageID) Title() string {
	switch p {
	case PageIndex:
		return "首页"
	case PageHerbs:
		return "中药图鉴"
	case PageAIDoctor:
		return "AI医生"
	case PagePlan:
		return "康养方案"
	case PageEvaluation:
		return "个人评估"
	case PageAbout:
		return "关于我们"
	default:
		return string(p)
	}
}

// Pages lists every page in menu order.
var Pages = []PageID{PageIndex, PageHerbs, PageAIDoctor, PagePlan, PageEvaluation, PageAbout}

// ParsePage returns the page named s, or ErrNotFound.
func ParsePage(s string) (PageID, error) {
	for _, p := range Pages {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("page %q: %w", s, ErrNotFound)
}

// CommandKind classifies a spoken (or typed) command.
type CommandKind int

const (
	CommandDictation CommandKind = iota // free text, no keyword matched
	CommandStop
	CommandSmartSearch
	CommandSearch
	CommandReadAloud
	CommandCreatePlan
	CommandSend
	CommandClear
	CommandNavigate
)

// String returns a human-readable command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandDictation:
		return "dictation"
	case CommandStop:
		return "stop"
	case CommandSmartSearch:
		return "smart_search"
	case CommandSearch:
		return "search"
	case CommandReadAloud:
		return "read_aloud"
	case CommandCreatePlan:
		return "create_plan"
	case CommandSend:
		return "send"
	case CommandClear:
		return "clear"
	case CommandNavigate:
		return "navigate"
	default:
		return "unknown"
	}
}

// Read-aloud targets carried in Command.Arg.
const (
	ReadTargetHerb = "herb"
	ReadTargetPlan = "plan"
)

// Command is a parsed user action.
//
// Arg depends on Kind: the search term for Search and SmartSearch, a
// ReadTarget for ReadAloud, a PageID for Navigate and the full text for
// Dictation.
type Command struct {
	Kind CommandKind
	Arg  string
}
