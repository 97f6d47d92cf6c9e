package script

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/makeasinger/panelcast/internal/model"
)

// minNarrativeLength is the shortest extracted text accepted as a panel.
const minNarrativeLength = 10

// strategy extracts the narrative of panel n from a piece of script.
type strategy struct {
	name    string
	pattern string // %d is the panel number
	// scope is "section" for text between panel markers or "script" for
	// the whole output.
	scope string
	// open strategies may match text that is still streaming in, so they
	// only run once the section is closed.
	open bool
}

// Ordered strict to loose. Section scope is tried before script scope so a
// stray mention of a panel elsewhere cannot shadow its own block.
var strategies = []strategy{
	{name: "strict", pattern: `PANEL_%d:\s*dialogue_text:\s*"([^"]*)"`, scope: "section"},
	{name: "strict-script", pattern: `PANEL_%d:\s*dialogue_text:\s*"([^"]*)"`, scope: "script"},
	{name: "unquoted", pattern: `PANEL_%d:\s*dialogue_text:\s*([^\n]+)`, scope: "section", open: true},
	{name: "unquoted-script", pattern: `PANEL_%d:\s*dialogue_text:\s*([^\n]+)`, scope: "script", open: true},
	{name: "flexible", pattern: `(?is)PANEL[_\s]*%d\b[:\s\-]*.{0,80}?dialogue[_\s]*text[:\s]*["']?([^"'\n]+)`, scope: "section", open: true},
	// At script scope the label and the text may only be a line apart.
	{name: "flexible-script", pattern: `(?i)PANEL[_\s]*%d\b[:\s\-]*[^\n]{0,80}?\n?[^\n]{0,80}?dialogue[_\s]*text[:\s]*["']?([^"'\n]+)`, scope: "script", open: true},
	{name: "numbered", pattern: `(?m)^\s*%d[\.:\)]\s+([^0-9\n][^\n]{20,})`, scope: "script", open: true},
}

var (
	// markerRe only matches a panel label that starts a line and ends in a
	// colon, such as "PANEL_3:" or "**Panel 3**:".
	markerRe = regexp.MustCompile(`(?im)^[ \t]*[*#>]*[ \t]*PANEL[_ \t]?(\d+)[ \t]*\**[ \t]*:`)
	prefixRe = regexp.MustCompile(`(?i)^\s*(panel[_\s]*\d+\s*[:.\-]\s*|dialogue[_\s]*text\s*:\s*|narration\s*:\s*|[-*•]+\s*)`)
	spaceRe  = regexp.MustCompile(`\s+`)

	imagePromptRe      = regexp.MustCompile(`(?i)image[_\s]*prompt\s*:\s*"([^"]*)"`)
	imagePromptLooseRe = regexp.MustCompile(`(?i)image[_\s]*prompt\s*:\s*([^\n]+)`)
	characterSheetRe   = regexp.MustCompile(`(?i)CHARACTER[_\s]*SHEET\s*:\s*`)
	styleGuideRe       = regexp.MustCompile(`(?i)STYLE[_\s]*GUIDE\s*:\s*`)
)

type marker struct {
	number     int
	start, end int
}

// Parser turns streamed script text into panels incrementally. Panels are
// emitted in ascending order as soon as their text can no longer change.
type Parser struct {
	panels int
	brief  Brief
	tmpl   *Templates

	buf        strings.Builder
	next       int
	recognized int
	used       map[string]bool
	compiled   map[string]*regexp.Regexp

	character *model.CharacterSheet
	style     *model.StyleSheet
}

func NewParser(panels int, b Brief, t *Templates) *Parser {
	return &Parser{
		panels:   panels,
		brief:    b,
		tmpl:     t,
		next:     1,
		used:     make(map[string]bool),
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Feed appends streamed text and returns the panels it completed.
func (p *Parser) Feed(delta string) []model.ScriptPanel {
	p.buf.WriteString(delta)
	return p.scan(false)
}

// Finish resolves every remaining panel, substituting fallbacks.
func (p *Parser) Finish() []model.ScriptPanel {
	return p.scan(true)
}

// Recognized is the number of panels extracted from the script itself.
func (p *Parser) Recognized() int { return p.recognized }

// Done reports whether every panel has been emitted.
func (p *Parser) Done() bool { return p.next > p.panels }

func (p *Parser) scan(final bool) []model.ScriptPanel {
	text := p.buf.String()
	markers := findMarkers(text)

	// Sheets are only taken before the first panel goes out, so every
	// panel of the story is drawn from the same description.
	if p.next == 1 {
		if p.character == nil {
			p.character = decodeSheet[model.CharacterSheet](text, characterSheetRe)
		}
		if p.style == nil {
			p.style = decodeSheet[model.StyleSheet](text, styleGuideRe)
		}
	}

	var out []model.ScriptPanel
	for p.next <= p.panels {
		n := p.next
		section, closed := sectionOf(text, markers, n)
		closed = closed || final

		narrative, ok := p.extract(n, text, section, closed)
		if !ok && !closed {
			break
		}
		prompt, done := imagePromptOf(section, closed)
		if ok && !done {
			break
		}

		panel := model.ScriptPanel{PanelNumber: n, Character: p.character, Style: p.style}
		if ok {
			p.recognized++
			panel.NarrativeText = p.unique(narrative, n)
			panel.ImagePrompt = prompt
		} else {
			panel.NarrativeText = p.unique(p.tmpl.Fallback(p.brief, n), n)
			panel.Fallback = true
		}
		out = append(out, panel)
		p.next++
	}
	return out
}

func (p *Parser) extract(n int, text, section string, closed bool) (string, bool) {
	for _, s := range strategies {
		if s.open && !closed {
			continue
		}
		input := section
		if s.scope == "script" {
			input = text
		}
		if input == "" {
			continue
		}
		m := p.regexp(s, n).FindStringSubmatch(input)
		if m == nil {
			continue
		}
		if cleaned := cleanNarrative(m[1]); len(cleaned) >= minNarrativeLength {
			return cleaned, true
		}
	}
	return "", false
}

func (p *Parser) regexp(s strategy, n int) *regexp.Regexp {
	key := s.name + ":" + strconv.Itoa(n)
	re, ok := p.compiled[key]
	if !ok {
		re = regexp.MustCompile(fmt.Sprintf(s.pattern, n))
		p.compiled[key] = re
	}
	return re
}

// unique guarantees no two panels of a job share narrative text.
func (p *Parser) unique(text string, n int) string {
	if p.used[text] {
		text = fmt.Sprintf("%s (Panel %d)", strings.TrimRight(text, "."), n)
	}
	p.used[text] = true
	return text
}

func findMarkers(text string) []marker {
	idx := markerRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]marker, 0, len(idx))
	for _, m := range idx {
		num, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		out = append(out, marker{number: num, start: m[0], end: m[1]})
	}
	return out
}

// sectionOf returns the text of panel n from its marker up to the next
// marker. closed is true once later text exists, so the section is final.
func sectionOf(text string, markers []marker, n int) (string, bool) {
	for i, m := range markers {
		if m.number != n {
			continue
		}
		if i+1 < len(markers) {
			return text[m.start:markers[i+1].start], true
		}
		return text[m.start:], false
	}
	for _, m := range markers {
		if m.number > n {
			return "", true
		}
	}
	return "", false
}

// imagePromptOf returns the scene description of a panel section. done is
// false while a prompt may still be streaming in.
func imagePromptOf(section string, closed bool) (string, bool) {
	if m := imagePromptRe.FindStringSubmatch(section); m != nil {
		return strings.TrimSpace(spaceRe.ReplaceAllString(m[1], " ")), true
	}
	if !closed {
		return "", false
	}
	if m := imagePromptLooseRe.FindStringSubmatch(section); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), "\"'“”"), true
	}
	return "", true
}

// decodeSheet reads the JSON object following label. It returns nil until
// the whole object has arrived or when it is not valid JSON.
func decodeSheet[T any](text string, label *regexp.Regexp) *T {
	loc := label.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	rest := text[loc[1]:]
	if !strings.HasPrefix(rest, "{") {
		return nil
	}
	var v T
	if err := json.NewDecoder(strings.NewReader(rest)).Decode(&v); err != nil {
		return nil
	}
	return &v
}

// cleanNarrative strips structural prefixes and quotes, collapses
// whitespace and normalises sentence case and terminal punctuation.
func cleanNarrative(s string) string {
	s = strings.TrimSpace(s)
	for {
		t := prefixRe.ReplaceAllString(s, "")
		if t == s {
			break
		}
		s = t
	}
	s = strings.Trim(s, "\"'“”‘’ \t")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") && !strings.HasSuffix(s, "…") {
		s += "."
	}
	return s
}
