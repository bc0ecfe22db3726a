package index

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/ansuz/internal/facts"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// NoteRecord is one catalog row.
type NoteRecord struct {
	Path      string
	Name      facts.NoteName
	Title     string
	Checksum  string
	Tags      []string
	Content   string
	Headings  []facts.Heading
	Links     []facts.InternLink
	UpdatedAt time.Time
}

// Structure returns the record's parsed headings and links.
func (r NoteRecord) Structure() *facts.Structure {
	return facts.NewStructure(r.Headings, r.Links)
}

// LinkTargets returns the distinct note names linked from r, self-links excluded.
func (r NoteRecord) LinkTargets() []string {
	seen := make(map[facts.NoteName]struct{}, len(r.Links))
	var out []string
	for _, l := range r.Links {
		if l.Note == "" {
			continue
		}
		if _, ok := seen[l.Note]; ok {
			continue
		}
		seen[l.Note] = struct{}{}
		out = append(out, string(l.Note))
	}
	return out
}

// BuildRecord parses data stored at the vault-relative path.
func BuildRecord(path string, data []byte) (NoteRecord, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return NoteRecord{}, fmt.Errorf("index: parse %s: %w", path, err)
	}
	return NoteRecord{
		Path:      path,
		Name:      facts.NameForPath(path),
		Title:     res.Title,
		Checksum:  storage.Checksum(data),
		Tags:      res.Tags,
		Content:   string(data),
		Headings:  res.Headings,
		Links:     res.Links,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

type structureBlob struct {
	Headings []headingBlob `msgpack:"h"`
	Links    []linkBlob    `msgpack:"l"`
}

type headingBlob struct {
	Level int    `msgpack:"v"`
	Text  string `msgpack:"t"`
	Start int    `msgpack:"s"`
	End   int    `msgpack:"e"`
}

type linkBlob struct {
	Note    string `msgpack:"n"`
	Heading string `msgpack:"h"`
	Start   int    `msgpack:"s"`
	End     int    `msgpack:"e"`
}

func encodeStructure(headings []facts.Heading, links []facts.InternLink) ([]byte, error) {
	blob := structureBlob{
		Headings: make([]headingBlob, len(headings)),
		Links:    make([]linkBlob, len(links)),
	}
	for i, h := range headings {
		blob.Headings[i] = headingBlob{Level: h.Level, Text: h.Text, Start: h.Span.Start, End: h.Span.End}
	}
	for i, l := range links {
		blob.Links[i] = linkBlob{Note: string(l.Note), Heading: l.Heading, Start: l.Span.Start, End: l.Span.End}
	}
	b, err := msgpack.Marshal(&blob)
	if err != nil {
		return nil, fmt.Errorf("index: encode structure: %w", err)
	}
	return b, nil
}

func decodeStructure(b []byte) ([]facts.Heading, []facts.InternLink, error) {
	if len(b) == 0 {
		return nil, nil, nil
	}
	var blob structureBlob
	if err := msgpack.Unmarshal(b, &blob); err != nil {
		return nil, nil, fmt.Errorf("index: decode structure: %w", err)
	}
	headings := make([]facts.Heading, len(blob.Headings))
	for i, h := range blob.Headings {
		headings[i] = facts.Heading{
			ID:    facts.HeadingID(i),
			Level: h.Level,
			Text:  h.Text,
			Span:  facts.Span{Start: h.Start, End: h.End},
		}
	}
	links := make([]facts.InternLink, len(blob.Links))
	for i, l := range blob.Links {
		links[i] = facts.InternLink{
			ID:      facts.LinkID(i),
			Note:    facts.NoteName(l.Note),
			Heading: l.Heading,
			Span:    facts.Span{Start: l.Start, End: l.End},
		}
	}
	return headings, links, nil
}
