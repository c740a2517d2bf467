package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect adapts the shared queries to one SQL engine. Queries are written with "?" placeholders.
type Dialect struct {
	Name string
	// Placeholder returns the bind parameter at 1-based position n.
	Placeholder func(n int) string
}

var (
	Postgres = Dialect{
		Name: "postgres",
		Placeholder: func(n int) string {
			return "$" + strconv.Itoa(n)
		},
	}

	SQLite = Dialect{
		Name: "sqlite",
		Placeholder: func(int) string {
			return "?"
		},
	}
)

// Rebind rewrites the "?" placeholders of query for the dialect.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

// In returns "(?, ?, ...)" with count placeholders.
func In(count int) string {
	if count == 0 {
		return "(NULL)"
	}

	return "(" + strings.TrimSuffix(strings.Repeat("?, ", count), ", ") + ")"
}
