package protocol

import (
	"fmt"
	"strings"
)

// noResultsText is shown when the worker found nothing relevant.
const noResultsText = "No relevant documentation found."

// Text renders the response as plain text: the answer, then its sources and
// any suggested follow-up questions.
func (r *Response) Text() string {
	var b strings.Builder

	if r.HasResults || r.Answer != "" {
		b.WriteString(r.Answer)
	} else {
		b.WriteString(noResultsText)
	}

	if len(r.Sources) > 0 {
		b.WriteString("\n\nSources:")

		for _, src := range r.Sources {
			b.WriteString("\n- ")
			b.WriteString(src.String())
		}
	}

	if len(r.Suggestions) > 0 {
		b.WriteString("\n\nTry asking:")

		for _, s := range r.Suggestions {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}

	return b.String()
}

// String formats the source as "Title > Section: URL (score S)".
func (s Source) String() string {
	label := s.Title

	switch {
	case label == "":
		label = s.Section
	case s.Section != "":
		label += " > " + s.Section
	}

	if label == "" {
		return fmt.Sprintf("%s (score %.2f)", s.URL, s.Score)
	}

	return fmt.Sprintf("%s: %s (score %.2f)", label, s.URL, s.Score)
}
