package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
)

// RodDriver drives Chrome through go-rod with the stealth patches applied
type RodDriver struct {
	browser  *rod.Browser
	page     *rod.Page
	lnch     *launcher.Launcher
	timeouts Timeouts
}

// NewRodDriver launches Chrome via the rod launcher, or connects to
// cfg.RemoteURL
func NewRodDriver(ctx context.Context, cfg config.BrowserConfig) (*RodDriver, error) {
	var wsURL string
	var lnch *launcher.Launcher

	if cfg.RemoteURL != "" {
		u, err := ResolveDebuggerURL(ctx, cfg.RemoteURL)
		if err != nil {
			return nil, err
		}
		wsURL = u
	} else {
		lnch = launcher.New().Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight))
		if cfg.ExecPath != "" {
			lnch = lnch.Bin(cfg.ExecPath)
		}
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		logging.Warn("rod: ignore cert errors failed: %v", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	d := &RodDriver{browser: b, page: page, lnch: lnch, timeouts: TimeoutsFrom(cfg)}
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		logging.Warn("Dismissing JS dialog%s", logging.KV("type", e.Type, "message", e.Message))
		accept := e.Type == proto.PageDialogTypeAlert
		go func() {
			_ = proto.PageHandleJavaScriptDialog{Accept: accept}.Call(page)
		}()
	})()
	return d, nil
}

func (d *RodDriver) bound(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return d.page.Context(tctx), cancel
}

func mapRodErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "Cannot find context") || strings.Contains(msg, "Node is detached") ||
		strings.Contains(msg, "Execution context was destroyed") {
		return fmt.Errorf("%w: %v", ErrDetached, err)
	}
	return err
}

// eval runs a helper call, round-tripping the result through JSON
func (d *RodDriver) eval(ctx context.Context, timeout time.Duration, call string, out any) error {
	p, cancel := d.bound(ctx, timeout)
	defer cancel()
	res, err := p.Eval("() => {\n" + helperJS + "\nreturn JSON.stringify(" + call + ");\n}")
	if err != nil {
		return mapRodErr(err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Value.Str()), out)
}

func (d *RodDriver) read(ctx context.Context, call string) (readResult, error) {
	var res readResult
	if err := d.eval(ctx, d.timeouts.Read, call, &res); err != nil {
		return res, err
	}
	if !res.Found {
		return res, ErrNotFound
	}
	return res, nil
}

func (d *RodDriver) element(ctx context.Context, t Target) (*rod.Element, context.CancelFunc, error) {
	var n int
	if err := d.eval(ctx, d.timeouts.Read, jsCall("mark", t), &n); err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	p, cancel := d.bound(ctx, d.timeouts.Action)
	el, err := p.Element(hitQuery)
	if err != nil {
		cancel()
		return nil, nil, mapRodErr(err)
	}
	return el, cancel, nil
}

func (d *RodDriver) Goto(ctx context.Context, url string) error {
	p, cancel := d.bound(ctx, d.timeouts.Action*4)
	defer cancel()
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, mapRodErr(err))
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, mapRodErr(err))
	}
	return WaitSettle(ctx, d.timeouts.Settle)
}

func (d *RodDriver) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	p, cancel := d.bound(ctx, d.timeouts.Read)
	defer cancel()
	info, err := p.Info()
	return info, mapRodErr(err)
}

func (d *RodDriver) Location(ctx context.Context) (string, error) {
	info, err := d.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *RodDriver) Title(ctx context.Context) (string, error) {
	info, err := d.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (d *RodDriver) Count(ctx context.Context, t Target) (int, error) {
	var n int
	err := d.eval(ctx, d.timeouts.Read, jsCall("count", t), &n)
	return n, err
}

func (d *RodDriver) ReadAttribute(ctx context.Context, t Target, name string) (string, bool, error) {
	res, err := d.read(ctx, jsCall("attr", t, name))
	return res.Value, res.OK, err
}

func (d *RodDriver) ReadText(ctx context.Context, t Target) (string, error) {
	res, err := d.read(ctx, jsCall("text", t))
	return res.Value, err
}

func (d *RodDriver) ReadValue(ctx context.Context, t Target) (string, error) {
	res, err := d.read(ctx, jsCall("value", t))
	return res.Value, err
}

func (d *RodDriver) IsChecked(ctx context.Context, t Target) (bool, error) {
	res, err := d.read(ctx, jsCall("checked", t))
	return res.OK, err
}

func (d *RodDriver) IsVisible(ctx context.Context, t Target) (bool, error) {
	res, err := d.read(ctx, jsCall("visible", t))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return res.OK, err
}

func (d *RodDriver) Click(ctx context.Context, t Target) error {
	el, cancel, err := d.element(ctx, t)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", t, mapRodErr(err))
	}
	return WaitSettle(ctx, d.timeouts.Settle)
}

func (d *RodDriver) Fill(ctx context.Context, t Target, value string) error {
	el, cancel, err := d.element(ctx, t)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill %s: %w", t, mapRodErr(err))
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", t, mapRodErr(err))
	}
	return d.eval(ctx, d.timeouts.Read, jsCall("fire", t), nil)
}

func (d *RodDriver) SelectOption(ctx context.Context, t Target, value string) error {
	var status string
	if err := d.eval(ctx, d.timeouts.Action, jsCall("select", t, value), &status); err != nil {
		return err
	}
	switch status {
	case "ok":
		return WaitSettle(ctx, d.timeouts.Settle)
	case "missing", "no_option":
		return fmt.Errorf("%w: select %s option %q (%s)", ErrNotFound, t, value, status)
	default:
		return fmt.Errorf("%w: %s is not a native select", ErrUnsupported, t)
	}
}

func (d *RodDriver) WaitFor(ctx context.Context, t Target, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		visible, err := d.IsVisible(ctx, t)
		if err == nil && visible {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: waiting for %s", ErrTimeout, t)
		}
		if err := WaitSettle(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

func (d *RodDriver) Press(ctx context.Context, key string) error {
	var k input.Key
	switch strings.ToLower(key) {
	case "escape", "esc":
		k = input.Escape
	case "enter":
		k = input.Enter
	default:
		return fmt.Errorf("%w: key %q", ErrUnsupported, key)
	}
	p, cancel := d.bound(ctx, d.timeouts.Action)
	defer cancel()
	return mapRodErr(p.Keyboard.Press(k))
}

func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	p, cancel := d.bound(ctx, d.timeouts.Action*2)
	defer cancel()
	buf, err := p.Screenshot(true, nil)
	return buf, mapRodErr(err)
}

// Evaluate runs script as a program in global scope and decodes the
// value of its last statement into out
func (d *RodDriver) Evaluate(ctx context.Context, script string, out any) error {
	src, err := json.Marshal(script)
	if err != nil {
		return err
	}
	p, cancel := d.bound(ctx, d.timeouts.Action)
	defer cancel()
	res, err := p.Eval("() => JSON.stringify((0, eval)(" + string(src) + "))")
	if err != nil {
		return mapRodErr(err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Value.Str()), out)
}

func (d *RodDriver) Snapshot(ctx context.Context, opts SnapshotOptions) (*DOMSnapshot, error) {
	var res snapshotResult
	if err := d.eval(ctx, d.timeouts.Action, jsCall("annotate", map[string]string{
		"mainSelector":  opts.MainSelector,
		"modalSelector": opts.ModalSelector,
	}), &res); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return res.toSnapshot(), nil
}

func (d *RodDriver) Close() error {
	err := d.browser.Close()
	if d.lnch != nil {
		d.lnch.Cleanup()
	}
	return err
}
