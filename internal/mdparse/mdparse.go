// Package mdparse inspects model-written Markdown: it splits a document into
// heading sections, collects links, and checks a required heading template.
package mdparse

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one ATX or setext heading and the Markdown beneath it, up to the
// next heading of the same or a higher level.
type Section struct {
	Level int
	Title string
	Line  int
	Body  string
}

// Link is a Markdown link or autolink.
type Link struct {
	Text string
	URL  string
}

// Document is a parsed Markdown document.
type Document struct {
	Sections []Section
	Links    []Link
}

// heading is an intermediate record of a heading's byte offsets.
type heading struct {
	level     int
	title     string
	lineStart int
	bodyStart int
}

// Parse parses src with goldmark's CommonMark parser.
func Parse(src []byte) Document {
	root := goldmark.DefaultParser().Parse(text.NewReader(src))

	var heads []heading
	var doc Document
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			if v.Lines().Len() == 0 {
				return ast.WalkSkipChildren, nil
			}
			first := v.Lines().At(0)
			last := v.Lines().At(v.Lines().Len() - 1)
			heads = append(heads, heading{
				level:     v.Level,
				title:     nodeText(v, src),
				lineStart: lineStart(src, first.Start),
				bodyStart: skipUnderline(src, lineEnd(src, last.Stop)),
			})
		case *ast.Link:
			doc.Links = append(doc.Links, Link{Text: nodeText(v, src), URL: string(v.Destination)})
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			u := string(v.URL(src))
			doc.Links = append(doc.Links, Link{Text: u, URL: u})
		}
		return ast.WalkContinue, nil
	})

	for i, h := range heads {
		end := len(src)
		for _, next := range heads[i+1:] {
			if next.level <= h.level {
				end = next.lineStart
				break
			}
		}
		body := ""
		if h.bodyStart < end {
			body = strings.TrimSpace(string(src[h.bodyStart:end]))
		}
		doc.Sections = append(doc.Sections, Section{
			Level: h.level,
			Title: h.title,
			Line:  bytes.Count(src[:h.lineStart], []byte("\n")) + 1,
			Body:  body,
		})
	}
	return doc
}

// Find returns the first section whose normalized title contains name, or nil.
func (d Document) Find(name string) *Section {
	want := Normalize(name)
	for i := range d.Sections {
		if strings.Contains(Normalize(d.Sections[i].Title), want) {
			return &d.Sections[i]
		}
	}
	return nil
}

// CheckOrder verifies that every required heading is present and that they
// appear in the given order. It returns one message per problem.
func (d Document) CheckOrder(required []string) []string {
	var problems []string
	last := -1
	for _, name := range required {
		want := Normalize(name)
		idx := -1
		for i, s := range d.Sections {
			if strings.Contains(Normalize(s.Title), want) {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			problems = append(problems, fmt.Sprintf("missing section %q", name))
		case idx < last:
			problems = append(problems, fmt.Sprintf("section %q is out of order (line %d)", name, d.Sections[idx].Line))
		default:
			last = idx
		}
	}
	return problems
}

// Normalize lower-cases a heading title, folds typographic apostrophes and
// strips leading emoji and punctuation so titles compare by their words.
func Normalize(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`).Replace(s)
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// nodeText concatenates the literal text under n.
func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// lineStart returns the offset of the first byte of the line containing pos.
func lineStart(src []byte, pos int) int {
	if i := bytes.LastIndexByte(src[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// skipUnderline steps past a setext underline ("===" or "---") at pos.
func skipUnderline(src []byte, pos int) int {
	end := lineEnd(src, pos)
	line := bytes.TrimSpace(src[pos:end])
	if len(line) > 0 && (len(bytes.Trim(line, "=")) == 0 || len(bytes.Trim(line, "-")) == 0) {
		return end
	}
	return pos
}

// lineEnd returns the offset just past the newline ending the line containing pos.
func lineEnd(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}
