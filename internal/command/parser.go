// Package command turns transcripts into commands and routes them to the
// handler for the current page.
package command

import (
	"regexp"
	"strings"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Parser converts a transcript into an ordered list of candidate commands,
// most specific first. Matching is a case-insensitive substring match, so
// one utterance can trigger several rules ("朗读方案" is both ReadAloud and
// Navigate); the router settles it against the current page.
type Parser struct {
	log   *logger.Logger
	rules []keywordRule
	nav   []navRule
}

// keywordRule fires when any of anyOf is present, and every word in allOf.
type keywordRule struct {
	kind  domain.CommandKind
	anyOf []string
	allOf []string
	arg   string
	// strip removes the triggers from the transcript and uses the rest as Arg.
	strip bool
}

type navRule struct {
	anyOf []string
	page  domain.PageID
}

// punctuation dropped from search terms.
var punctuation = regexp.MustCompile(`[。.,，]`)

// NewParser creates the keyword command parser.
func NewParser(log *logger.Logger) *Parser {
	return &Parser{
		log: log,
		rules: []keywordRule{
			{kind: domain.CommandSmartSearch, anyOf: []string{"智能搜索", "ai搜索"}, strip: true},
			{kind: domain.CommandSearch, anyOf: []string{"搜索", "查找"}, strip: true},
			{kind: domain.CommandReadAloud, anyOf: []string{"朗读"}, allOf: []string{"药材"}, arg: domain.ReadTargetHerb},
			{kind: domain.CommandReadAloud, anyOf: []string{"朗读"}, allOf: []string{"方案"}, arg: domain.ReadTargetPlan},
			{kind: domain.CommandCreatePlan, anyOf: []string{"创建方案", "生成方案", "制定方案"}},
			{kind: domain.CommandSend, anyOf: []string{"发送", "提问", "咨询"}},
			{kind: domain.CommandClear, anyOf: []string{"清空", "清除"}},
		},
		nav: []navRule{
			{[]string{"首页", "主页"}, domain.PageIndex},
			{[]string{"方案", "计划"}, domain.PagePlan},
			{[]string{"评估", "测试"}, domain.PageEvaluation},
			{[]string{"药材", "中药"}, domain.PageHerbs},
			{[]string{"医生", "咨询"}, domain.PageAIDoctor},
			{[]string{"关于", "介绍"}, domain.PageAbout},
		},
	}
}

// stopWords always win: a transcript containing one of them parses to a
// single Stop command no matter what else was said.
var stopWords = []string{"停止", "终止"}

// Parse returns the candidate commands for transcript. The list is never
// empty: Dictation carrying the trimmed transcript is always last.
func (p *Parser) Parse(transcript string) []domain.Command {
	trimmed := strings.TrimSpace(transcript)
	lower := strings.ToLower(trimmed)

	if containsAny(lower, stopWords) {
		p.log.Debug("parsed %q as stop", trimmed)
		return []domain.Command{{Kind: domain.CommandStop}}
	}

	var out []domain.Command
	searched := false
	for _, r := range p.rules {
		if !containsAny(lower, r.anyOf) || !containsAll(lower, r.allOf) {
			continue
		}
		// "智能搜索" contains "搜索"; the plain search rule must not fire too.
		if r.kind == domain.CommandSearch && searched {
			continue
		}
		cmd := domain.Command{Kind: r.kind, Arg: r.arg}
		if r.strip {
			cmd.Arg = searchTerm(trimmed, r.anyOf)
		}
		if r.kind == domain.CommandSmartSearch || r.kind == domain.CommandSearch {
			searched = true
		}
		out = append(out, cmd)
	}

	for _, n := range p.nav {
		if containsAny(lower, n.anyOf) {
			out = append(out, domain.Command{Kind: domain.CommandNavigate, Arg: string(n.page)})
			break
		}
	}

	out = append(out, domain.Command{Kind: domain.CommandDictation, Arg: trimmed})
	p.log.Debug("parsed %q into %d candidates (first=%s)", trimmed, len(out), out[0].Kind)
	return out
}

// searchTerm removes the trigger words and punctuation, case-insensitively,
// and returns what is left.
func searchTerm(s string, triggers []string) string {
	for _, t := range triggers {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(t))
		s = re.ReplaceAllString(s, "")
	}
	s = punctuation.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}
