package pipeline

import "regexp"

// executableBlocks match complete elements whose content the browser would
// execute or apply. Go's RE2 has no backreferences, hence one pattern per tag.
var executableBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`),
	regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`),
	regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object\s*>`),
	regexp.MustCompile(`(?is)<embed\b[^>]*>.*?</embed\s*>`),
}

// danglingTags match unbalanced opening or closing tags left once the
// complete blocks are gone, e.g. an unterminated <script src=...>.
var danglingTags = regexp.MustCompile(`(?i)</?(?:script|style|iframe|object|embed)\b[^>]*>`)

// Sanitize removes executable markup from raw Markdown. Markdown syntax is
// left untouched. The result is a fixpoint: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(markdown string) string {
	out := markdown
	for {
		prev := out
		for _, re := range executableBlocks {
			out = re.ReplaceAllString(out, "")
		}
		out = danglingTags.ReplaceAllString(out, "")
		// Removal can splice a new tag together from the remains
		// ("<scr<script></script>ipt>"), so repeat until nothing changes.
		if out == prev {
			return out
		}
	}
}
