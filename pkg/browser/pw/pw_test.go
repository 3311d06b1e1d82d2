package pw

import (
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitecheck/pkg/browser"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stale bool
	}{
		{name: "nil", err: nil},
		{name: "detached", err: errors.New("elementHandle.click: Element is not attached to the DOM"), stale: true},
		{name: "navigated", err: errors.New("Execution context was destroyed, most likely because of a navigation"), stale: true},
		{name: "disposed", err: errors.New("JSHandle is disposed"), stale: true},
		{name: "target closed", err: playwright.ErrTargetClosed, stale: true},
		{name: "timeout", err: errors.New("Timeout 30000ms exceeded")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if tc.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tc.stale, errors.Is(got, browser.ErrStaleElement))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestBrowserName(t *testing.T) {
	assert.Equal(t, "chromium", browserName(""))
	assert.Equal(t, "chromium", browserName("chrome"))
	assert.Equal(t, "firefox", browserName("Firefox"))
	assert.Equal(t, "webkit", browserName("webkit"))
}

func TestSelector(t *testing.T) {
	tests := []struct {
		name    string
		q       browser.Query
		want    string
		wantErr string
	}{
		{name: "css", q: browser.Query{By: browser.ByCSS, Value: ".inventory_item"}, want: "css=.inventory_item"},
		{name: "id", q: browser.Query{By: browser.ByID, Value: "login-button"}, want: `css=[id="login-button"]`},
		{name: "name", q: browser.Query{By: browser.ByName, Value: "user"}, want: `css=[name="user"]`},
		{name: "xpath", q: browser.Query{By: browser.ByXPath, Value: "//ul/li"}, want: "xpath=//ul/li"},
		{name: "link text", q: browser.Query{By: browser.ByLinkText, Value: "About"}, want: "xpath=//a[normalize-space(.)='About']"},
		{name: "unknown", q: browser.Query{By: "shadow", Value: "x"}, wantErr: `unsupported query strategy "shadow"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := selector(tc.q)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
