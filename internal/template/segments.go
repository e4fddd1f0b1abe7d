package template

import (
	"regexp"
	"strings"
)

// segment is a run of template text. Frozen segments were produced by an
// earlier stage and are never scanned again.
type segment struct {
	text   string
	frozen bool
}

type segments []segment

func newSegments(text string) segments {
	return segments{{text: text}}
}

// replaceFunc resolves one regexp match. ok is false to leave the match as is.
type replaceFunc func(match []string) (replacement string, ok bool)

// substitute runs re over every unfrozen segment and freezes the replacements
func (s segments) substitute(re *regexp.Regexp, fn replaceFunc) segments {
	out := make(segments, 0, len(s))
	for _, seg := range s {
		if seg.frozen {
			out = append(out, seg)
			continue
		}

		last := 0
		for _, loc := range re.FindAllStringSubmatchIndex(seg.text, -1) {
			match := make([]string, len(loc)/2)
			for i := range match {
				if loc[2*i] >= 0 {
					match[i] = seg.text[loc[2*i]:loc[2*i+1]]
				}
			}

			replacement, ok := fn(match)
			if !ok {
				continue
			}
			if loc[0] > last {
				out = append(out, segment{text: seg.text[last:loc[0]]})
			}
			out = append(out, segment{text: replacement, frozen: true})
			last = loc[1]
		}
		if last < len(seg.text) {
			out = append(out, segment{text: seg.text[last:]})
		}
	}
	return out
}

func (s segments) String() string {
	var b strings.Builder
	for _, seg := range s {
		b.WriteString(seg.text)
	}
	return b.String()
}
