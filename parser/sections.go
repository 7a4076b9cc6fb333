// Package parser extracts labelled sections from free-form model output.
//
// Agents are instructed to answer in the form
//
//	#Label#
//	content
//	#Next Label#
//	...
//
// but model output drifts: sections go missing, arrive out of order, or trail
// a completion marker. Parse scrapes whatever sections are present; callers
// merge the result into their own records so an omitted section never wipes a
// previously captured value.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Section binds a prompt-visible label to the stable field key it populates.
type Section struct {
	Label string
	Key   string
}

// Grammar describes one answer format: its sections, the completion marker to
// strip before scanning (if any), and whether missing sections are an error.
type Grammar struct {
	Sections   []Section
	DoneMarker string
	Strict     bool
}

// Parse scans text for the grammar's sections and returns a map holding ONLY
// the sections actually found, keyed by Section.Key. Values are trimmed of
// surrounding whitespace. In strict mode a missing section is an error; in
// lenient mode it is simply absent from the result.
func (g Grammar) Parse(text string) (map[string]string, error) {
	if g.DoneMarker != "" {
		text = strings.ReplaceAll(text, g.DoneMarker, "")
	}
	// Sentinel terminator so the last section's "up to the next #" capture
	// works without a special case.
	text = text + "\n#"

	found := make(map[string]string, len(g.Sections))
	var missing []string
	for _, s := range g.Sections {
		re := regexp.MustCompile(`(?s)` + regexp.QuoteMeta("#"+s.Label+"#") + `(.*?)\n#`)
		m := re.FindStringSubmatch(text)
		if m == nil {
			missing = append(missing, s.Label)
			continue
		}
		found[s.Key] = strings.TrimSpace(m[1])
	}
	if g.Strict && len(missing) > 0 {
		return found, fmt.Errorf("sections missing from output: %s", strings.Join(missing, ", "))
	}
	return found, nil
}

// Flatten renders sections back into the grammar's wire form, in grammar
// order. Keys absent from sections render with an empty body so the output is
// always parseable by the same grammar.
func (g Grammar) Flatten(sections map[string]string) string {
	var b strings.Builder
	for _, s := range g.Sections {
		fmt.Fprintf(&b, "#%s#\n%s\n\n", s.Label, sections[s.Key])
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
