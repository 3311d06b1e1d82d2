package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/config"
	"github.com/umputun/sitecheck/pkg/ordering"
)

func TestParse(t *testing.T) {
	sc, err := Parse([]byte(`
name: shop
base_url: https://shop.test/
steps:
  - open: /
  - fill: {locate: [{id: user-name}, {name: user}], text: standard_user}
  - wait: {count: {locate: [{css: .item}], at_least: 1}, timeout_ms: 500}
  - name: price sort
    reorder:
      items: [{css: .price}]
      select: {locate: [{id: sort}], option: "Price (low to high)"}
      kind: numeric
      direction: desc
      decimal_sep: ","
  - external_link: {locate: [{text: About, tag: a}], expect: vendor.test}
    optional: true
`))
	require.NoError(t, err)
	assert.Equal(t, "shop", sc.Name)
	require.Len(t, sc.Steps, 5)

	assert.Equal(t, "open", sc.Steps[0].Label())
	chain, err := sc.Steps[1].Fill.Locate.Chain()
	require.NoError(t, err)
	assert.Equal(t, []browser.Query{{By: browser.ByID, Value: "user-name"}, {By: browser.ByName, Value: "user"}}, []browser.Query(chain))

	require.NotNil(t, sc.Steps[2].Wait.Count.AtLeast)
	assert.Equal(t, 1, *sc.Steps[2].Wait.Count.AtLeast)

	assert.Equal(t, "price sort", sc.Steps[3].Label())
	a, err := sc.Steps[3].Reorder.Assertion()
	require.NoError(t, err)
	assert.Equal(t, ordering.Assertion{Kind: ordering.Numeric, Direction: ordering.Descending, DecimalSep: ','}, a)

	assert.True(t, sc.Steps[4].Optional)
	q, err := sc.Steps[4].ExternalLink.Locate[0].Query()
	require.NoError(t, err)
	assert.Equal(t, browser.Query{By: browser.ByText, Tag: "a", Value: "About"}, q)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "no steps", doc: "name: x\n", wantErr: "no steps"},
		{name: "unknown key", doc: "steps:\n  - tap: {locate: [{id: a}]}\n", wantErr: "field tap not found"},
		{name: "no action", doc: "steps:\n  - name: nothing\n", wantErr: "step 1 (nothing): no action"},
		{name: "two actions", doc: "steps:\n  - open: /\n    click: {locate: [{id: a}]}\n", wantErr: "more than one action: open+click"},
		{name: "empty locator", doc: "steps:\n  - click: {locate: [{}]}\n", wantErr: "empty locator"},
		{name: "no locator", doc: "steps:\n  - click: {locate: []}\n", wantErr: "no locator"},
		{name: "two strategies", doc: "steps:\n  - click: {locate: [{id: a, css: .b}]}\n", wantErr: "sets 2 strategies"},
		{name: "tag without text", doc: "steps:\n  - click: {locate: [{id: a, tag: a}]}\n", wantErr: "tag is only valid with text"},
		{name: "select without option", doc: "steps:\n  - select: {locate: [{id: s}]}\n", wantErr: "select needs an option"},
		{name: "link without expect", doc: "steps:\n  - external_link: {locate: [{id: a}]}\n", wantErr: "needs expect"},
		{
			name:    "reorder with two controls",
			doc:     "steps:\n  - reorder: {items: [{css: .p}], click: {locate: [{id: a}]}, select: {locate: [{id: s}], option: x}}\n",
			wantErr: "exactly one of select or click",
		},
		{name: "bad kind", doc: "steps:\n  - sorted: {items: [{css: .p}], kind: date}\n", wantErr: `unknown value kind "date"`},
		{name: "bad direction", doc: "steps:\n  - sorted: {items: [{css: .p}], direction: up}\n", wantErr: `unknown direction "up"`},
		{name: "long separator", doc: "steps:\n  - sorted: {items: [{css: .p}], kind: numeric, decimal_sep: ab}\n", wantErr: `decimal_sep "ab" must be "." or ","`},
		{name: "letter separator", doc: "steps:\n  - sorted: {items: [{css: .p}], kind: numeric, decimal_sep: x}\n", wantErr: `decimal_sep "x" must be "." or ","`},
		{name: "digit separator", doc: "steps:\n  - reorder: {items: [{css: .p}], kind: numeric, decimal_sep: \"5\", click: {locate: [{id: a}]}}\n", wantErr: `decimal_sep "5" must be "." or ","`},
		{name: "wait two conditions", doc: "steps:\n  - wait: {visible: [{id: a}], url_contains: x}\n", wantErr: "exactly one condition, got 2"},
		{name: "wait no condition", doc: "steps:\n  - wait: {timeout_ms: 10}\n", wantErr: "exactly one condition, got 0"},
		{name: "text wait ambiguous", doc: "steps:\n  - wait: {text: {locate: [{id: a}]}}\n", wantErr: "exactly one of equals or contains"},
		{name: "count wait ambiguous", doc: "steps:\n  - wait: {count: {locate: [{id: a}], is: 1, at_least: 1}}\n", wantErr: "exactly one of is or at_least"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestOrder_Assertion(t *testing.T) {
	sc, err := Parse([]byte(`
steps:
  - sorted: {items: [{css: .p}], kind: numeric}
  - sorted: {items: [{css: .p}], kind: numeric, decimal_sep: ".", loose_ties: true}
`))
	require.NoError(t, err)

	strict, err := sc.Steps[0].Sorted.Assertion()
	require.NoError(t, err)
	assert.False(t, strict.LooseTies, "equal keys keep their order by default")

	loose, err := sc.Steps[1].Sorted.Assertion()
	require.NoError(t, err)
	assert.Equal(t, ordering.Assertion{Kind: ordering.Numeric, DecimalSep: '.', LooseTies: true}, loose)
}

func TestParse_ReportsAllStepErrors(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - click: {locate: []}\n  - open: /\n  - select: {locate: [{id: s}]}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (click)")
	assert.Contains(t, err.Error(), "step 3 (select)")
	assert.NotContains(t, err.Error(), "step 2")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("steps:\n  - open: /b\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: first\nsteps:\n  - open: /a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a scenario"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yml"), 0o700))

	scs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scs, 2)
	assert.Equal(t, "first", scs[0].Name)
	assert.Equal(t, "b", scs[1].Name, "name defaults to the file name")
	assert.Equal(t, filepath.Join(dir, "b.yml"), scs[1].Path)

	t.Run("broken file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yml"), []byte("steps: [\n"), 0o600))
		_, err := LoadDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "c.yml")
	})

	t.Run("empty dir", func(t *testing.T) {
		_, err := LoadDir(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no scenarios")
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := LoadDir(filepath.Join(dir, "nope"))
		require.Error(t, err)
	})
}

func TestEmbeddedExampleScenarios(t *testing.T) {
	fsys := config.DefaultsFS()
	entries, err := fsys.ReadDir("defaults/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		t.Run(e.Name(), func(t *testing.T) {
			data, err := fsys.ReadFile("defaults/scenarios/" + e.Name())
			require.NoError(t, err)
			sc, err := Parse(data)
			require.NoError(t, err)
			assert.NotEmpty(t, sc.BaseURL)
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{base: "https://shop.test/v1/index.html", ref: "/", want: "https://shop.test/"},
		{base: "https://shop.test/v1/index.html", ref: "cart.html", want: "https://shop.test/v1/cart.html"},
		{base: "https://shop.test/", ref: "https://other.test/x", want: "https://other.test/x"},
		{base: "", ref: "/relative", want: "/relative"},
	}
	for _, tc := range tests {
		t.Run(tc.ref, func(t *testing.T) {
			got, err := resolveURL(tc.base, tc.ref)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	_, err := resolveURL("https://shop.test/", "http://[::1")
	require.Error(t, err)
}
