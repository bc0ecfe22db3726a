// Package parser extracts frontmatter, headings, wikilinks, and tags from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/facts"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|#]*)(?:#([^\[\]|]*))?(?:\|([^\[\]]*))?\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

	md = goldmark.New()
)

// Result holds the output of parsing a Markdown file.
// All spans are byte offsets into the parsed data, frontmatter included.
type Result struct {
	Frontmatter map[string]interface{}
	Headings    []facts.Heading
	Links       []facts.InternLink
	Tags        []string
	Title       string
}

// Structure returns the headings and links as a facts.Structure.
func (r *Result) Structure() *facts.Structure {
	return facts.NewStructure(r.Headings, r.Links)
}

// Parse extracts frontmatter, headings, wikilinks, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, offset := splitFrontmatter(data)
	body := data[offset:]

	doc := md.Parser().Parse(text.NewReader(body))
	headings, code := walk(doc, body, offset)
	links := extractLinks(string(body), offset, code)
	tags := extractTags(string(body), fm)

	return &Result{
		Frontmatter: fm,
		Headings:    headings,
		Links:       links,
		Tags:        tags,
		Title:       deriveTitle(fm, headings),
	}, nil
}

// splitFrontmatter parses YAML frontmatter (between leading --- delimiters)
// and returns it with the offset at which the Markdown body starts.
// Without valid frontmatter the whole content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, int) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	lead := len(data) - len(trimmed)

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, 0
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, 0
	}

	yamlBlock := rest[:idx]
	end := lead + len(delim) + idx + 1 + len(delim)
	for end < len(data) && (data[end] == '\n' || data[end] == '\r') {
		end++
	}

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, 0
	}
	return fm, end
}

type region struct{ start, end int }

// walk collects headings and the byte regions of code blocks and code spans.
func walk(doc ast.Node, src []byte, offset int) ([]facts.Heading, []region) {
	var (
		headings []facts.Heading
		code     []region
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if h, ok := headingOf(node, src, offset); ok {
				headings = append(headings, h)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			if lines.Len() > 0 {
				code = append(code, region{
					start: offset + lines.At(0).Start,
					end:   offset + lines.At(lines.Len()-1).Stop,
				})
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			start, end := -1, -1
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				t, ok := c.(*ast.Text)
				if !ok {
					continue
				}
				if start < 0 || t.Segment.Start < start {
					start = t.Segment.Start
				}
				if t.Segment.Stop > end {
					end = t.Segment.Stop
				}
			}
			if start >= 0 {
				code = append(code, region{start: offset + start, end: offset + end})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	sort.Slice(code, func(i, j int) bool { return code[i].start < code[j].start })
	return headings, code
}

func headingOf(n *ast.Heading, src []byte, offset int) (facts.Heading, bool) {
	lines := n.Lines()
	if lines.Len() == 0 {
		return facts.Heading{}, false
	}
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimSpace(string(seg.Value(src))))
	}
	txt := strings.TrimSpace(strings.Join(parts, " "))
	if txt == "" {
		return facts.Heading{}, false
	}

	first, last := lines.At(0), lines.At(lines.Len()-1)
	start := first.Start
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	end := last.Stop
	for end < len(src) && src[end] != '\n' && src[end] != '\r' {
		end++
	}
	return facts.Heading{
		Level: n.Level,
		Text:  txt,
		Span:  facts.Span{Start: offset + start, End: offset + end},
	}, true
}

// extractLinks returns wikilinks in document order, skipping those inside code.
func extractLinks(body string, offset int, code []region) []facts.InternLink {
	matches := wikilinkRe.FindAllStringSubmatchIndex(body, -1)
	out := make([]facts.InternLink, 0, len(matches))
	for _, m := range matches {
		start, end := offset+m[0], offset+m[1]
		if inCode(code, start) {
			continue
		}
		note := strings.TrimSpace(body[m[2]:m[3]])
		note = strings.TrimSuffix(note, ".md")
		var heading string
		if m[4] >= 0 {
			heading = strings.TrimSpace(body[m[4]:m[5]])
		}
		if note == "" && heading == "" {
			continue
		}
		out = append(out, facts.InternLink{
			Note:    facts.NoteName(note),
			Heading: heading,
			Span:    facts.Span{Start: start, End: end},
		})
	}
	return out
}

func inCode(code []region, pos int) bool {
	i := sort.Search(len(code), func(i int) bool { return code[i].end > pos })
	return i < len(code) && code[i].start <= pos
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"].([]interface{}); ok {
			for _, item := range raw {
				s, ok := item.(string)
				if !ok {
					continue
				}
				s = strings.TrimSpace(s)
				if _, dup := seen[s]; s != "" && !dup {
					seen[s] = struct{}{}
					out = append(out, s)
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// level-1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, headings []facts.Heading) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, h := range headings {
		if h.Level == 1 {
			return h.Text
		}
	}
	return ""
}
