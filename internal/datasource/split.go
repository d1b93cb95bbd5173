package datasource

import "strings"

// SplitStatements splits script into individual statements on top-level
// semicolons. Semicolons inside quoted strings, quoted identifiers, comments
// and dollar-quoted bodies do not split. Fragments holding only whitespace or
// comments are dropped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		start   int
		hasCode bool
	)

	flush := func(end int) {
		if hasCode {
			if s := strings.TrimSpace(script[start:end]); s != "" {
				stmts = append(stmts, s)
			}
		}
		hasCode = false
	}

	n := len(script)
	for i := 0; i < n; {
		c := script[i]
		switch {
		case c == '-' && i+1 < n && script[i+1] == '-':
			if j := strings.IndexByte(script[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = n
			}
		case c == '/' && i+1 < n && script[i+1] == '*':
			if j := strings.Index(script[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = n
			}
		case c == '\'' || c == '"':
			hasCode = true
			i = skipQuoted(script, i, c)
		case c == '$':
			hasCode = true
			if tag, ok := dollarTag(script[i:]); ok {
				if j := strings.Index(script[i+len(tag):], tag); j >= 0 {
					i += len(tag) + j + len(tag)
				} else {
					i = n
				}
			} else {
				i++
			}
		case c == ';':
			flush(i)
			i++
			start = i
		default:
			if !isSpace(c) {
				hasCode = true
			}
			i++
		}
	}
	flush(n)
	return stmts
}

// skipQuoted returns the index just past the quoted run opened at i. A doubled
// quote character is an escaped quote.
func skipQuoted(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// dollarTag reports whether s starts with a dollar-quote opener such as $$ or $body$.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// returnsRows guesses whether stmt produces a result set from its leading keyword.
func returnsRows(stmt string) bool {
	s := strings.TrimLeft(stripLeadingComments(stmt), "( \t\r\n")
	word := s
	if i := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	}); i >= 0 {
		word = s[:i]
	}
	switch strings.ToUpper(word) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN", "SHOW", "TABLE":
		return true
	}
	return strings.Contains(strings.ToUpper(s), "RETURNING")
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}
