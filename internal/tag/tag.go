// Package tag implements the structured subject tag that links outbound
// sourcing mail to internal records, e.g. "[AVL-42]".
package tag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tagger builds, finds, and strips subject tags for one program prefix.
type Tagger struct {
	prefix string
	re     *regexp.Regexp
}

// New creates a Tagger for the given program prefix.
func New(prefix string) *Tagger {
	return &Tagger{
		prefix: prefix,
		// The closing bracket right after the digits keeps [AVL-42]
		// from matching inside [AVL-420].
		re: regexp.MustCompile(`\[` + regexp.QuoteMeta(prefix) + `-(\d+)\]`),
	}
}

// Build returns the subject tag for the given internal record id.
func (t *Tagger) Build(id int64) string {
	return fmt.Sprintf("[%s-%d]", t.prefix, id)
}

// Find extracts the record id from the first tag in subject.
func (t *Tagger) Find(subject string) (int64, bool) {
	m := t.re.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Strip removes every tag from subject and collapses leftover whitespace,
// producing the display form.
func (t *Tagger) Strip(subject string) string {
	out := t.re.ReplaceAllString(subject, "")
	return strings.Join(strings.Fields(out), " ")
}
