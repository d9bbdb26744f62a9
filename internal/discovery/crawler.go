package discovery

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/replay"
	"github.com/lance13c/uimap/internal/types"
)

// Crawler explores a device UI from a start page: a work queue of pages
// processed one at a time, bounded by max pages and max clicks, with
// bounded recursion into modals
type Crawler struct {
	session     *Session
	nav         *replay.Navigator
	cfg         config.DiscoveryConfig
	destructive *regexp.Regexp
	shotDir     string
	clicks      int
	tried       map[string]bool
}

// NewCrawler wraps a session
func NewCrawler(s *Session, cfg *config.Config) *Crawler {
	destructive := regexp.MustCompile(cfg.Discovery.DestructivePattern)
	nav := replay.NewNavigator(s.Driver(), s.Resolver(), s.timeouts,
		msDuration(cfg.Discovery.PollIntervalMS))
	return &Crawler{
		session:     s,
		nav:         nav,
		cfg:         cfg.Discovery,
		destructive: destructive,
		shotDir:     s.opts.ScreenshotDir,
		tried:       map[string]bool{},
	}
}

// Run crawls from startURL and returns whatever was discovered, also when
// ctx is cancelled part way
func (c *Crawler) Run(ctx context.Context, startURL string) (*types.Discovery, error) {
	first, err := c.session.Start(ctx, startURL)
	if err != nil {
		return nil, err
	}
	queue := []string{first.NodeIDAfter}
	queued := map[string]bool{first.NodeIDAfter: true}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			logging.Info("crawl stopped: %v", ctx.Err())
			break
		}
		if pages, _ := c.session.Registry().Counts(); pages >= c.cfg.MaxPages {
			logging.Info("crawl reached max pages%s", logging.KV("pages", pages))
			break
		}
		if c.budgetSpent() {
			break
		}
		id := queue[0]
		queue = queue[1:]
		found, err := c.visit(ctx, id)
		if err != nil {
			c.pageFailed(ctx, id, err)
		}
		for _, next := range found {
			if !queued[next] {
				queued[next] = true
				queue = append(queue, next)
			}
		}
	}
	return c.session.Result(), nil
}

func (c *Crawler) budgetSpent() bool {
	if c.cfg.MaxClicks > 0 && c.clicks >= c.cfg.MaxClicks {
		logging.Info("crawl reached max clicks%s", logging.KV("clicks", c.clicks))
		return true
	}
	return false
}

// goTo puts the browser on a registered page
func (c *Crawler) goTo(ctx context.Context, id string) error {
	if cur := c.session.Current(); cur != nil && cur.Scope.ID == id {
		return nil
	}
	page, ok := c.session.Registry().Page(id)
	if !ok {
		return &replay.NavigationError{PageID: id, Reason: "page not registered"}
	}
	if err := c.nav.Navigate(ctx, &page); err != nil {
		return err
	}
	if _, err := c.session.Refresh(ctx, "navigation"); err != nil {
		return err
	}
	if cur := c.session.Current(); cur.Scope.ID != id {
		return &replay.NavigationError{PageID: id, Step: len(page.NavPath), Transient: true,
			Reason: "landed on " + cur.Scope.ID}
	}
	return nil
}

func (c *Crawler) visit(ctx context.Context, id string) ([]string, error) {
	if err := c.goTo(ctx, id); err != nil {
		return nil, err
	}
	scan := c.session.Current()
	logging.Debug("visiting page%s", logging.KV("page", id, "title", scan.Scope.Title, "nav", len(scan.Nav)))

	var found []string
	for _, cand := range scan.Nav {
		if c.budgetSpent() || ctx.Err() != nil {
			break
		}
		key := string(cand.Kind) + "|" + cand.Label + "|" + cand.Href
		if cand.Kind == types.ClickTab {
			key = scan.Scope.KeyPrefix + "|" + key
		}
		if c.tried[key] || c.destructive.MatchString(cand.Label) {
			continue
		}
		c.tried[key] = true
		if err := c.goTo(ctx, id); err != nil {
			return found, err
		}
		c.clicks++
		entry, err := c.session.Click(ctx, cand.Label, cand.Kind, cand.Selectors)
		if err != nil {
			logging.Warn("navigation candidate failed%s", logging.KV("page", id, "label", cand.Label, "err", err))
			continue
		}
		if cur := c.session.Current(); cur.Scope.Kind.IsOverlay() {
			c.closeModal(ctx, cur)
			continue
		}
		if entry.NodeIDAfter != id {
			found = append(found, entry.NodeIDAfter)
		}
	}

	if err := c.goTo(ctx, id); err != nil {
		return found, err
	}
	for _, f := range c.session.Current().Fields {
		if !f.OpensModal || c.budgetSpent() || ctx.Err() != nil {
			continue
		}
		if c.destructive.MatchString(f.Label) {
			continue
		}
		if err := c.goTo(ctx, id); err != nil {
			return found, err
		}
		if next := c.openModal(ctx, f, 1, nil); next != "" {
			found = append(found, next)
		}
	}
	return found, nil
}

// openModal clicks a trigger, recurses into modal triggers of the opened
// modal up to max depth, refusing signatures already on the stack, and
// closes the modal again. A trigger that navigated returns the new page.
func (c *Crawler) openModal(ctx context.Context, trigger types.FieldEntry, depth int, stack []string) string {
	c.clicks++
	entry, err := c.session.Click(ctx, trigger.Label, types.ClickModalOpen, trigger.Selectors)
	if err != nil {
		logging.Warn("modal trigger failed%s", logging.KV("label", trigger.Label, "depth", depth, "err", err))
		return ""
	}
	cur := c.session.Current()
	if !cur.Scope.Kind.IsOverlay() {
		if entry.TransitionType == types.TransitionNavigate {
			return entry.NodeIDAfter
		}
		logging.Debug("trigger opened no modal%s", logging.KV("label", trigger.Label, "depth", depth))
		return ""
	}
	sig := cur.Scope.ID
	for _, s := range stack {
		if s == sig {
			logging.Debug("modal already open on stack%s", logging.KV("node", sig, "depth", depth))
			c.closeModal(ctx, cur)
			return ""
		}
	}
	stack = append(stack, sig)

	if depth < c.cfg.MaxModalDepth {
		for _, f := range cur.Fields {
			if !f.OpensModal || c.budgetSpent() || c.destructive.MatchString(f.Label) {
				continue
			}
			if c.session.Current().Scope.ID != sig {
				break
			}
			c.openModal(ctx, f, depth+1, stack)
		}
	}
	c.closeModal(ctx, c.session.Current())
	return ""
}

// closeModal tries the recorded cancel and close actions, then Escape.
// Failure is diagnostic only; the next goTo resets the page anyway.
func (c *Crawler) closeModal(ctx context.Context, modal *Scan) {
	if modal == nil || !modal.Scope.Kind.IsOverlay() {
		return
	}
	closed := func() bool {
		cur := c.session.Current()
		return cur == nil || cur.Scope.ID != modal.Scope.ID
	}
	for _, kind := range []types.ActionKind{types.ActionCancel, types.ActionClose} {
		for _, a := range modal.Actions {
			if a.Kind != kind {
				continue
			}
			c.clicks++
			if _, err := c.session.Click(ctx, a.Label, types.ClickModalClose, a.Selectors); err != nil {
				logging.Debug("modal close action failed%s", logging.KV("node", modal.Scope.ID, "label", a.Label, "err", err))
				continue
			}
			if closed() {
				return
			}
		}
	}
	if _, err := c.session.Press(ctx, "Escape", types.ClickModalClose); err != nil {
		logging.Debug("escape failed%s", logging.KV("node", modal.Scope.ID, "err", err))
	}
	if !closed() {
		logging.Warn("modal could not be closed%s", logging.KV("node", modal.Scope.ID, "title", modal.Scope.Title))
	}
}

func (c *Crawler) pageFailed(ctx context.Context, id string, err error) {
	logging.Warn("page discovery failed%s", logging.KV("page", id, "err", err))
	if c.shotDir == "" || ctx.Err() != nil {
		return
	}
	c.session.DumpHTML("failed-" + id)
	data, serr := c.session.Driver().Screenshot(ctx)
	if serr != nil {
		return
	}
	if err := os.MkdirAll(c.shotDir, 0755); err != nil {
		return
	}
	path := filepath.Join(c.shotDir, "failed-"+id+".png")
	if werr := os.WriteFile(path, data, 0644); werr == nil {
		logging.Info("failure screenshot saved%s", logging.KV("page", id, "path", path))
	}
}
