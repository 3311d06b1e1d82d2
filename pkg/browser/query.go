package browser

import (
	"fmt"
	"strings"
)

// By is the strategy of a Query.
type By string

// query strategies understood by every backend.
const (
	ByID       By = "id"
	ByCSS      By = "css"
	ByXPath    By = "xpath"
	ByName     By = "name"
	ByText     By = "text"      // element whose normalized text contains Value
	ByLinkText By = "link-text" // <a> whose normalized text equals Value
)

// Query describes one way of finding elements.
// Tag narrows ByText queries to an element name, "*" or empty means any element.
type Query struct {
	By    By
	Value string
	Tag   string
}

// String renders the query for diagnostics, e.g. `css=.inventory_list`.
func (q Query) String() string {
	if q.By == ByText && q.Tag != "" && q.Tag != "*" {
		return fmt.Sprintf("%s=%s[%q]", q.By, q.Tag, q.Value)
	}
	return fmt.Sprintf("%s=%s", q.By, q.Value)
}

// CSS returns the query as a CSS selector, ok is false for strategies CSS can't express.
func (q Query) CSS() (string, bool) {
	switch q.By {
	case ByCSS:
		return q.Value, true
	case ByID:
		return fmt.Sprintf(`[id=%s]`, cssString(q.Value)), true
	case ByName:
		return fmt.Sprintf(`[name=%s]`, cssString(q.Value)), true
	default:
		return "", false
	}
}

// XPath returns the query as an XPath expression. CSS queries have no XPath form and return false.
func (q Query) XPath() (string, bool) {
	switch q.By {
	case ByXPath:
		return q.Value, true
	case ByID:
		return fmt.Sprintf("//*[@id=%s]", XPathLiteral(q.Value)), true
	case ByName:
		return fmt.Sprintf("//*[@name=%s]", XPathLiteral(q.Value)), true
	case ByText:
		tag := q.Tag
		if tag == "" {
			tag = "*"
		}
		// innermost match only, otherwise every ancestor of the text node matches too
		lit := XPathLiteral(q.Value)
		return fmt.Sprintf("//%s[contains(normalize-space(.), %s) and not(.//%s[contains(normalize-space(.), %s)])]",
			tag, lit, tag, lit), true
	case ByLinkText:
		return fmt.Sprintf("//a[normalize-space(.)=%s]", XPathLiteral(q.Value)), true
	default:
		return "", false
	}
}

// XPathLiteral quotes s as an XPath string literal.
// XPath 1.0 has no escape sequences, so a value containing both quote kinds is built with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// cssString quotes s as a CSS string.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}
