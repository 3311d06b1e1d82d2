package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "About", want: "'About'"},
		{in: "Price (low to high)", want: "'Price (low to high)'"},
		{in: "it's", want: `"it's"`},
		{in: `say "hi"`, want: `'say "hi"'`},
		{in: `it's "x"`, want: `concat('it', "'", 's "x"')`},
		{in: `'"`, want: `concat("'", '"')`},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, XPathLiteral(tc.in))
		})
	}
}

func TestQuery_CSS(t *testing.T) {
	sel, ok := Query{By: ByID, Value: "user-name"}.CSS()
	assert.True(t, ok)
	assert.Equal(t, `[id="user-name"]`, sel)

	sel, ok = Query{By: ByName, Value: `a"b`}.CSS()
	assert.True(t, ok)
	assert.Equal(t, `[name="a\"b"]`, sel)

	sel, ok = Query{By: ByCSS, Value: ".inventory_list"}.CSS()
	assert.True(t, ok)
	assert.Equal(t, ".inventory_list", sel)

	_, ok = Query{By: ByText, Value: "About"}.CSS()
	assert.False(t, ok)
}

func TestQuery_XPath(t *testing.T) {
	xp, ok := Query{By: ByLinkText, Value: "Logout"}.XPath()
	assert.True(t, ok)
	assert.Equal(t, "//a[normalize-space(.)='Logout']", xp)

	xp, ok = Query{By: ByText, Tag: "button", Value: "Reset App State"}.XPath()
	assert.True(t, ok)
	assert.Equal(t, "//button[contains(normalize-space(.), 'Reset App State') and "+
		"not(.//button[contains(normalize-space(.), 'Reset App State')])]", xp)

	xp, ok = Query{By: ByText, Value: "x"}.XPath()
	assert.True(t, ok)
	assert.Contains(t, xp, "//*[")

	_, ok = Query{By: ByCSS, Value: "a"}.XPath()
	assert.False(t, ok)
}

func TestQuery_String(t *testing.T) {
	assert.Equal(t, "css=.price", Query{By: ByCSS, Value: ".price"}.String())
	assert.Equal(t, `text=a["About"]`, Query{By: ByText, Tag: "a", Value: "About"}.String())
	assert.Equal(t, "text=About", Query{By: ByText, Value: "About"}.String())
}

func TestSession_Defaults(t *testing.T) {
	var s *Session
	assert.Equal(t, DefaultTimeout, s.WaitTimeout())
	assert.Equal(t, DefaultPollInterval, s.WaitPollInterval())
	assert.NotNil(t, s.Logger())

	s = &Session{Timeout: 3e9}
	assert.Equal(t, int64(3e9), int64(s.WaitTimeout()))
	assert.Equal(t, DefaultPollInterval, s.WaitPollInterval())
}
