package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricefeed/internal/browser"
	"github.com/JakeFAU/pricefeed/internal/ingest"
)

func TestAllocatorOptions(t *testing.T) {
	t.Parallel()

	base := len(chromedp.DefaultExecAllocatorOptions)
	flags := len(browser.LaunchFlags(nil))

	d := New(Config{Headless: true}, nil)
	require.Len(t, d.allocatorOptions(), base+flags)

	d = New(Config{Headless: false, ExecPath: "/usr/bin/chromium"}, nil)
	require.Len(t, d.allocatorOptions(), base+flags+2)
	require.Equal(t, "chromedp", d.Name())
}

func TestSetupActions(t *testing.T) {
	t.Parallel()

	require.Empty(t, setupActions(browser.PageOptions{}, ""))
	actions := setupActions(browser.PageOptions{
		UserAgent:      "agent",
		ViewportWidth:  1280,
		ViewportHeight: 720,
		BlockResources: true,
	}, "en-US")
	require.Len(t, actions, 3)
}

func TestBlockPatterns(t *testing.T) {
	t.Parallel()

	patterns := blockPatterns()
	require.Len(t, patterns, 3+len(browser.BlockedURLPatterns))
	require.Equal(t, network.ResourceTypeImage, patterns[0].ResourceType)
	require.Equal(t, network.ResourceTypeFont, patterns[1].ResourceType)
	require.Equal(t, network.ResourceTypeMedia, patterns[2].ResourceType)
	require.Equal(t, "*.png", patterns[3].URLPattern)
}

func TestInvocationWrapsFunctionExpression(t *testing.T) {
	t.Parallel()

	got := invocation(ingest.Heuristic{Name: "x", Script: "() => null"})
	require.Equal(t, "(() => null)()", got)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected parent cancellation to propagate")
	}
}

func TestForwardCancelStopDetaches(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	for range 200 {
		stop := forwardCancel(parent, cancelChild)
		stop()
	}
	cancelParent()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, child.Err())
}

func TestForwardCancelStopAfterParentDone(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	cancelParent()
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	<-child.Done()
	stop()
	require.ErrorIs(t, child.Err(), context.Canceled)
}

func TestTabWrapClassifiesClosedContexts(t *testing.T) {
	t.Parallel()

	browserCtx, browserCancel := context.WithCancel(context.Background())
	tabCtx, tabCancel := context.WithCancel(browserCtx)
	defer browserCancel()
	tb := &tab{ctx: tabCtx, cancel: tabCancel, browserCtx: browserCtx}

	cause := errors.New("boom")
	require.Equal(t, cause, tb.wrap(cause))
	require.NoError(t, tb.wrap(nil))

	tabCancel()
	require.ErrorIs(t, tb.wrap(cause), ingest.ErrSessionClosed)
	require.Equal(t, ingest.FailureSession, ingest.Classify(tb.wrap(cause)))

	browserCancel()
	require.ErrorIs(t, tb.wrap(cause), ingest.ErrBrowserDisconnected)
	require.ErrorIs(t, tb.wrap(cause), cause)
}

func TestTabBindCopiesDeadline(t *testing.T) {
	t.Parallel()

	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	tb := &tab{ctx: tabCtx, cancel: tabCancel, browserCtx: context.Background()}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	want, _ := ctx.Deadline()

	runCtx, done := tb.bind(ctx)
	got, ok := runCtx.Deadline()
	require.True(t, ok)
	require.Equal(t, want, got)

	done()
	require.Error(t, runCtx.Err())
	require.NoError(t, tabCtx.Err())
}

func TestTabBindWithoutDeadline(t *testing.T) {
	t.Parallel()

	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	tb := &tab{ctx: tabCtx, cancel: tabCancel, browserCtx: context.Background()}

	runCtx, done := tb.bind(context.WithoutCancel(context.Background()))
	defer done()
	_, ok := runCtx.Deadline()
	require.False(t, ok)
}

func TestQueryOption(t *testing.T) {
	t.Parallel()

	require.NotNil(t, queryOption(ingest.XPath("//h3")))
	require.NotNil(t, queryOption(ingest.Selector("h3")))
}
