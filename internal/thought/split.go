// Package thought is the agent's opaque text source: a markdown journal split
// into short entries, with built-in lines when no journal exists.
package thought

import (
	"strings"
)

const (
	DefaultTargetSize = 240
	DefaultMaxSize    = 400
)

// Options bounds entry size.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default entry sizes.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Thought is one journal entry.
type Thought struct {
	Text      string `json:"text"`
	Heading   string `json:"heading,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// Split breaks a journal into entries. Headings start a new entry and are
// carried on every entry beneath them; short paragraphs under the same
// heading are merged up to TargetSize; anything over MaxSize is cut on line
// boundaries.
func Split(text string, opts Options) []Thought {
	if opts.TargetSize <= 0 || opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []Thought
	for _, s := range sections(text) {
		out = append(out, merge(s, opts)...)
	}
	return out
}

type paragraph struct {
	text      string
	startLine int
	endLine   int
}

type section struct {
	heading    string
	paragraphs []paragraph
}

// sections groups paragraphs under their nearest heading.
func sections(text string) []section {
	lines := strings.Split(text, "\n")
	var out []section
	cur := section{}
	var buf []string
	start := 1

	flushPara := func(end int) {
		t := strings.TrimSpace(strings.Join(buf, "\n"))
		if t != "" {
			cur.paragraphs = append(cur.paragraphs, paragraph{text: t, startLine: start, endLine: end})
		}
		buf = nil
		start = end + 1
	}
	flushSection := func() {
		if cur.heading != "" || len(cur.paragraphs) > 0 {
			out = append(out, cur)
		}
		cur = section{}
	}

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			flushPara(n - 1)
			flushSection()
			cur.heading = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			start = n + 1
		case trimmed == "":
			flushPara(n - 1)
		default:
			if len(buf) == 0 {
				start = n
			}
			buf = append(buf, line)
		}
	}
	flushPara(len(lines))
	flushSection()
	return out
}

func merge(s section, opts Options) []Thought {
	var out []Thought
	var acc paragraph

	flush := func() {
		if acc.text == "" {
			return
		}
		if len(acc.text) > opts.MaxSize {
			out = append(out, cut(acc, s.heading, opts)...)
		} else {
			out = append(out, Thought{Text: acc.text, Heading: s.heading, StartLine: acc.startLine, EndLine: acc.endLine})
		}
		acc = paragraph{}
	}

	for _, p := range s.paragraphs {
		if acc.text == "" {
			acc = p
			continue
		}
		if combined := acc.text + "\n\n" + p.text; len(combined) <= opts.TargetSize {
			acc.text = combined
			acc.endLine = p.endLine
			continue
		}
		flush()
		acc = p
	}
	flush()
	return out
}

// cut splits an oversized paragraph on line boundaries, and on word
// boundaries for a single overlong line.
func cut(p paragraph, heading string, opts Options) []Thought {
	var out []Thought
	var cur []string
	curLen := 0
	curStart := p.startLine
	lineNo := p.startLine

	emit := func(end int) {
		if t := strings.TrimSpace(strings.Join(cur, " ")); t != "" {
			out = append(out, Thought{Text: t, Heading: heading, StartLine: curStart, EndLine: end})
		}
		cur = nil
		curLen = 0
	}

	for _, line := range strings.Split(p.text, "\n") {
		for _, word := range strings.Fields(line) {
			if curLen+len(word) > opts.TargetSize && len(cur) > 0 {
				emit(lineNo)
				curStart = lineNo
			}
			cur = append(cur, word)
			curLen += len(word) + 1
		}
		lineNo++
	}
	emit(lineNo - 1)
	return out
}
