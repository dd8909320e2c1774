package audit

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Query filters a Search.
//
// Text is a whitespace-separated list of terms, all of which must match.
// A term of the form field=value compares one field exactly (ignoring case);
// fields are action, principal, outcome and resource. Any other term is a
// case-insensitive substring match over principal, action, resource and
// detail. Since is inclusive, Until exclusive; zero values are unbounded.
type Query struct {
	Text  string
	Since time.Time
	Until time.Time
	Limit int
}

type fieldTerm struct {
	field string
	value string
}

type matcher struct {
	fields []fieldTerm
	words  []string
}

var knownFields = map[string]struct{}{
	"action": {}, "principal": {}, "outcome": {}, "resource": {},
}

func parseTerms(text string) matcher {
	var m matcher
	for _, term := range strings.Fields(text) {
		if name, value, ok := strings.Cut(term, "="); ok {
			if _, known := knownFields[strings.ToLower(name)]; known {
				m.fields = append(m.fields, fieldTerm{field: strings.ToLower(name), value: value})
				continue
			}
		}
		m.words = append(m.words, strings.ToLower(term))
	}
	return m
}

func (m matcher) match(e models.AuditEntry) bool {
	for _, f := range m.fields {
		var got string
		switch f.field {
		case "action":
			got = e.Action
		case "principal":
			got = e.Principal
		case "outcome":
			got = string(e.Outcome)
		case "resource":
			got = e.Resource
		}
		if !strings.EqualFold(got, f.value) {
			return false
		}
	}
	if len(m.words) == 0 {
		return true
	}
	hay := strings.ToLower(strings.Join([]string{e.Principal, e.Action, e.Resource, e.Detail}, " "))
	for _, w := range m.words {
		if !strings.Contains(hay, w) {
			return false
		}
	}
	return true
}
