package diag

import "github.com/starford/ansuz/internal/facts"

// CheckTitle reports every level-1 heading after the first.
func CheckTitle(note *facts.NoteView) []WithLoc {
	titles := note.Structure.HeadingsWithIDs(
		note.Structure.HeadingsMatching(func(h facts.Heading) bool { return h.Level == 1 }),
	)
	if len(titles) < 2 {
		return nil
	}
	out := make([]WithLoc, 0, len(titles)-1)
	for _, t := range titles[1:] {
		out = append(out, WithLoc{Diag: DupTitle{Title: t}, Span: t.Span})
	}
	return out
}

// CheckHeadings reports headings of level > 1 whose text repeats an earlier
// one. The first occurrence of each text is never reported.
func CheckHeadings(note *facts.NoteView) []WithLoc {
	worklist := note.Structure.HeadingsWithIDs(
		note.Structure.HeadingsMatching(func(h facts.Heading) bool { return h.Level > 1 }),
	)

	var out []WithLoc
	for len(worklist) > 0 {
		canonical := worklist[0]
		rest := worklist[:0:0]
		for _, h := range worklist[1:] {
			if h.Text == canonical.Text {
				out = append(out, WithLoc{Diag: DupHeading{Heading: h}, Span: h.Span})
				continue
			}
			rest = append(rest, h)
		}
		worklist = rest
	}
	return out
}

// CheckInternLinks reports links to missing notes and to missing headings of
// existing notes. A link without a note name targets the note itself.
func CheckInternLinks(f facts.Facts, note *facts.NoteView) []WithLoc {
	links := note.Structure.InternLinksWithIDs(note.Structure.InternLinkIDs())

	var out []WithLoc
	for _, l := range links {
		target := l.Note
		if target == "" {
			target = note.Name
		}

		id, ok := f.ResolveByName(target)
		if !ok {
			out = append(out, WithLoc{Diag: BrokenNoteLink{Note: target}, Span: l.Span})
			continue
		}
		if l.Heading == "" {
			continue
		}
		view, ok := f.NoteView(id)
		if !ok {
			out = append(out, WithLoc{Diag: BrokenNoteLink{Note: target}, Span: l.Span})
			continue
		}
		if _, found := view.Structure.HeadingWithText(l.Heading); !found {
			out = append(out, WithLoc{
				Diag: BrokenHeadingLink{Note: view.Name, Heading: l.Heading},
				Span: l.Span,
			})
		}
	}
	return out
}

// Check runs every rule over note.
func Check(f facts.Facts, note *facts.NoteView) Set {
	s := NewSet()
	s.Add(CheckTitle(note)...)
	s.Add(CheckHeadings(note)...)
	s.Add(CheckInternLinks(f, note)...)
	return s
}
