package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitecheck/pkg/browser"
	"github.com/umputun/sitecheck/pkg/browser/fake"
	"github.com/umputun/sitecheck/pkg/ordering"
	"github.com/umputun/sitecheck/pkg/verify"
	"github.com/umputun/sitecheck/pkg/wait"
)

const (
	shopURL      = "https://shop.test/"
	inventoryURL = "https://shop.test/inventory.html"
)

// shop routes a login page and an inventory with a price sort select and an about link.
func shop(t *testing.T) (*fake.Browser, *browser.Session) {
	t.Helper()
	b := fake.New(&fake.Page{URL: "about:blank"})
	b.Route(shopURL, func() *fake.Page {
		user := &fake.Node{Tag: "input", ID: "user-name"}
		pass := &fake.Node{Tag: "input", ID: "password"}
		login := &fake.Node{Tag: "button", ID: "login-button", OnClick: func(b *fake.Browser) {
			if user.Value == "standard_user" && pass.Value == "secret_sauce" {
				b.Go(inventoryURL)
			}
		}}
		return &fake.Page{Nodes: []*fake.Node{user, pass, login}}
	})
	b.Route(inventoryURL, func() *fake.Page {
		items := func(prices ...string) []*fake.Node {
			var res []*fake.Node
			for i, p := range prices {
				res = append(res,
					&fake.Node{Tag: "div", Classes: []string{"inventory_item_name"}, Text: string(rune('A' + i))},
					&fake.Node{Tag: "div", Classes: []string{"inventory_item_price"}, Text: p})
			}
			return res
		}
		sort := &fake.Node{
			Tag: "select", ID: "sort", Options: []string{"Price (low to high)", "Price (high to low)"},
			OnSelect: func(b *fake.Browser, label string) {
				next := []string{"$7.99", "$9.99", "$29.99"}
				if label == "Price (high to low)" {
					next = []string{"$29.99", "$9.99", "$7.99"}
				}
				b.Later(10*time.Millisecond, func(b *fake.Browser) {
					b.Mutate(func(p *fake.Page) { p.Nodes = append(p.Nodes[:4], items(next...)...) })
				})
			},
		}
		nodes := []*fake.Node{
			{Tag: "div", Classes: []string{"inventory_list"}},
			sort,
			{Tag: "a", ID: "about_sidebar_link", Text: "About", Href: "https://vendor.test/about", Target: "_blank"},
			{Tag: "a", ID: "blog", Text: "Blog", Href: "https://other.test/blog"},
		}
		return &fake.Page{Nodes: append(nodes, items("$9.99", "$29.99", "$7.99")...)}
	})
	return b, &browser.Session{Driver: b, Timeout: 300 * time.Millisecond, PollInterval: 5 * time.Millisecond}
}

const loginSteps = `
base_url: https://shop.test/
steps:
  - open: /
  - fill: {locate: [{id: user-name}], text: standard_user}
  - fill: {locate: [{id: password}], text: secret_sauce}
  - click: {locate: [{id: login-button}]}
  - wait: {visible: [{css: .inventory_list}]}
`

func parse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := Parse([]byte(doc))
	require.NoError(t, err)
	return sc
}

func TestRunner_Run_AllPass(t *testing.T) {
	b, s := shop(t)
	sc := parse(t, loginSteps+`
  - sorted: {items: [{css: .inventory_item_name}], kind: string, direction: asc}
  - reorder:
      items: [{css: .inventory_item_price}]
      select: {locate: [{id: sort}], option: "Price (low to high)"}
      kind: numeric
  - reorder:
      items: [{css: .inventory_item_price}]
      select: {locate: [{id: sort}], option: "Price (high to low)"}
      kind: numeric
      direction: desc
  - external_link: {locate: [{id: about_sidebar_link}, {link: About}], expect: vendor.test}
  - wait: {url_contains: inventory}
`)

	var seen []int
	r := &Runner{Session: s, OnStep: func(_ *Scenario, res StepResult) { seen = append(seen, res.Index) }}
	rep := r.Run(context.Background(), sc)

	for _, st := range rep.Steps {
		assert.True(t, st.Passed(), "step %d %s: %s", st.Index, st.Label, st.Result)
	}
	passed, failed, skipped := rep.Counts()
	assert.Equal(t, []int{10, 0, 0}, []int{passed, failed, skipped})
	assert.True(t, rep.OK())
	assert.Empty(t, rep.Failures())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
	assert.Equal(t, "opened https://shop.test/", rep.Steps[0].Reason)
	assert.Contains(t, rep.Steps[7].Reason, "$29.99, $9.99, $7.99")
	assert.Equal(t, inventoryURL, b.CurrentURL())
	assert.Len(t, b.OpenContexts(), 1, "link check closes what it opened")
}

func TestRunner_Run_FailureStopsScenario(t *testing.T) {
	_, s := shop(t)
	sc := parse(t, loginSteps+`
  - name: wrong direction
    reorder:
      items: [{css: .inventory_item_price}]
      select: {locate: [{id: sort}], option: "Price (low to high)"}
      kind: numeric
      direction: desc
  - external_link: {locate: [{id: about_sidebar_link}], expect: vendor.test}
`)
	rep := (&Runner{Session: s, SettleTimeout: 50 * time.Millisecond}).Run(context.Background(), sc)

	require.Len(t, rep.Steps, 7)
	failed := rep.Steps[5]
	require.True(t, failed.Failed())
	assert.Equal(t, "wrong direction", failed.Label)
	assert.ErrorIs(t, failed.Err(), ordering.ErrMismatch)

	assert.True(t, rep.Steps[6].Skipped())
	assert.Equal(t, "not run, step 6 failed", rep.Steps[6].Reason)
	assert.False(t, rep.OK())
	require.Len(t, rep.Failures(), 1)
	assert.Equal(t, 6, rep.Failures()[0].Index)
}

func TestRunner_Run_OptionalAbsence(t *testing.T) {
	_, s := shop(t)
	s.Timeout = 40 * time.Millisecond
	sc := parse(t, loginSteps+`
  - external_link: {locate: [{css: .social_linkedin}], expect: linkedin.com}
    optional: true
  - click: {locate: [{id: promo-banner}]}
    optional: true
  - sorted: {items: [{css: .ratings}], kind: numeric}
    optional: true
  - wait: {url_contains: inventory}
`)
	rep := (&Runner{Session: s}).Run(context.Background(), sc)

	for _, i := range []int{5, 6, 7} {
		st := rep.Steps[i]
		assert.True(t, st.Skipped(), "step %d: %s", st.Index, st.Result)
		assert.Equal(t, "feature absent", st.Reason)
	}
	assert.True(t, rep.Steps[8].Passed(), "optional skips don't stop the run")
	assert.True(t, rep.OK())
}

func TestRunner_Run_OptionalLinkToWrongSite(t *testing.T) {
	b, s := shop(t)
	s.Timeout = 40 * time.Millisecond
	sc := parse(t, loginSteps+`
  - external_link: {locate: [{id: blog}], expect: blog.shop.test}
    optional: true
`)
	rep := (&Runner{Session: s}).Run(context.Background(), sc)
	st := rep.Steps[5]
	require.True(t, st.Failed(), st.Result.String())
	assert.NotEqual(t, "feature absent", st.Reason)
	assert.Contains(t, st.Err().Error(), `led to "https://other.test/blog" in same context`)
	assert.Equal(t, inventoryURL, b.CurrentURL(), "back on the page the link lives on")
}

func TestRunner_Run_RequiredAbsence(t *testing.T) {
	_, s := shop(t)
	s.Timeout = 40 * time.Millisecond
	sc := parse(t, loginSteps+`
  - click: {locate: [{id: promo-banner}]}
`)
	rep := (&Runner{Session: s}).Run(context.Background(), sc)
	st := rep.Steps[5]
	require.True(t, st.Failed())
	assert.ErrorIs(t, st.Err(), wait.ErrTimeout)
	assert.Contains(t, st.Err().Error(), "click [id=promo-banner]")
}

func TestRunner_Run_WaitConditions(t *testing.T) {
	tests := []struct {
		name string
		step string
		ok   bool
		want string
	}{
		{name: "url", step: "{url_contains: inventory}", ok: true, want: `url containing "inventory"`},
		{name: "text equals", step: "{text: {locate: [{id: about_sidebar_link}], equals: About}}", ok: true, want: `text "About"`},
		{name: "text contains", step: "{text: {locate: [{id: about_sidebar_link}], contains: bou}}", ok: true},
		{name: "count is", step: "{count: {locate: [{css: .inventory_item_price}], is: 3}}", ok: true, want: "3 elements"},
		{name: "count at least", step: "{count: {locate: [{css: .inventory_item_price}], at_least: 4}, timeout_ms: 30}"},
		{name: "gone", step: "{gone: [{id: login-button}]}", ok: true},
		{name: "present", step: "{present: [{id: sort}]}", ok: true},
		{name: "clickable", step: "{clickable: [{id: sort}]}", ok: true},
		{name: "never visible", step: "{visible: [{css: .cart_badge}], timeout_ms: 30}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, s := shop(t)
			rep := (&Runner{Session: s}).Run(context.Background(), parse(t, loginSteps+"  - wait: "+tc.step+"\n"))
			st := rep.Steps[len(rep.Steps)-1]
			if !tc.ok {
				require.True(t, st.Failed())
				assert.ErrorIs(t, st.Err(), wait.ErrTimeout)
				return
			}
			require.NoError(t, st.Err())
			if tc.want != "" {
				assert.Equal(t, tc.want, st.Reason)
			}
		})
	}
}

func TestRunner_Run_Canceled(t *testing.T) {
	_, s := shop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := (&Runner{Session: s}).Run(ctx, parse(t, loginSteps))
	for _, st := range rep.Steps {
		assert.True(t, st.Skipped())
		assert.Equal(t, "run canceled", st.Reason)
	}
}

func TestRunner_Run_OpenFails(t *testing.T) {
	b, s := shop(t)
	require.NoError(t, b.CloseContext(context.Background(), b.Current()))
	rep := (&Runner{Session: s}).Run(context.Background(), parse(t, "steps:\n  - open: https://shop.test/\n    optional: true\n"))
	st := rep.Steps[0]
	require.True(t, st.Failed(), "a broken session is a failure even on optional steps")
	assert.True(t, errors.Is(st.Err(), browser.ErrNoSuchContext))
}

func TestReport_Counts(t *testing.T) {
	rep := Report{Steps: []StepResult{
		{Index: 1, Result: verify.Pass("ok")},
		{Index: 2, Result: verify.Fail("bad", errors.New("boom"))},
		{Index: 3, Result: verify.Skip("feature absent")},
		{Index: 4, Result: verify.Skip("not run, step 2 failed")},
	}}
	passed, failed, skipped := rep.Counts()
	assert.Equal(t, []int{1, 1, 2}, []int{passed, failed, skipped})
	assert.False(t, rep.OK())
	require.Len(t, rep.Failures(), 1)
	assert.Equal(t, 2, rep.Failures()[0].Index)
}
