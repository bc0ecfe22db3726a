package facts

// Structure is the ordered headings and internal links of one note revision.
type Structure struct {
	headings []Heading
	links    []InternLink
}

// NewStructure builds a Structure from headings and links in document order.
// IDs are reassigned to match each element's position.
func NewStructure(headings []Heading, links []InternLink) *Structure {
	s := &Structure{
		headings: make([]Heading, len(headings)),
		links:    make([]InternLink, len(links)),
	}
	for i, h := range headings {
		h.ID = HeadingID(i)
		s.headings[i] = h
	}
	for i, l := range links {
		l.ID = LinkID(i)
		s.links[i] = l
	}
	return s
}

// Headings returns every heading in document order.
func (s *Structure) Headings() []Heading {
	if s == nil {
		return nil
	}
	out := make([]Heading, len(s.headings))
	copy(out, s.headings)
	return out
}

// HeadingByID returns the heading with the given id.
func (s *Structure) HeadingByID(id HeadingID) (Heading, bool) {
	if s == nil || id < 0 || int(id) >= len(s.headings) {
		return Heading{}, false
	}
	return s.headings[id], true
}

// HeadingsMatching returns the ids of headings accepted by pred, in document order.
func (s *Structure) HeadingsMatching(pred func(Heading) bool) []HeadingID {
	if s == nil {
		return nil
	}
	var ids []HeadingID
	for _, h := range s.headings {
		if pred(h) {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

// HeadingsWithIDs returns the headings for ids, in the order given.
// Unknown ids are skipped.
func (s *Structure) HeadingsWithIDs(ids []HeadingID) []Heading {
	out := make([]Heading, 0, len(ids))
	for _, id := range ids {
		if h, ok := s.HeadingByID(id); ok {
			out = append(out, h)
		}
	}
	return out
}

// HeadingWithText returns the first heading whose text is exactly text.
func (s *Structure) HeadingWithText(text string) (Heading, bool) {
	if s == nil {
		return Heading{}, false
	}
	for _, h := range s.headings {
		if h.Text == text {
			return h, true
		}
	}
	return Heading{}, false
}

// InternLinks returns every internal link in document order.
func (s *Structure) InternLinks() []InternLink {
	if s == nil {
		return nil
	}
	out := make([]InternLink, len(s.links))
	copy(out, s.links)
	return out
}

// InternLinkIDs returns the ids of all internal links.
func (s *Structure) InternLinkIDs() []LinkID {
	if s == nil {
		return nil
	}
	ids := make([]LinkID, len(s.links))
	for i, l := range s.links {
		ids[i] = l.ID
	}
	return ids
}

// InternLinksWithIDs returns the links for ids, in the order given.
func (s *Structure) InternLinksWithIDs(ids []LinkID) []InternLink {
	out := make([]InternLink, 0, len(ids))
	if s == nil {
		return out
	}
	for _, id := range ids {
		if id < 0 || int(id) >= len(s.links) {
			continue
		}
		out = append(out, s.links[id])
	}
	return out
}
