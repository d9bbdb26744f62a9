package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
)

// ChromeDriver drives Chrome through chromedp
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	timeouts    Timeouts

	mu      sync.Mutex
	dialogs []string
}

// findChrome attempts to find a Chrome executable
func findChrome() (string, error) {
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "linux":
		paths = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
	case "windows":
		paths = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}

	for _, path := range paths {
		if runtime.GOOS == "darwin" {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			continue
		}
		if found, err := exec.LookPath(path); err == nil {
			return found, nil
		}
	}
	if path, err := exec.LookPath("chrome"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("Chrome browser not found. Please install Chrome or Chromium, or set browser.exec_path")
}

// NewChromeDriver launches Chrome, or attaches to cfg.RemoteURL when set
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig) (*ChromeDriver, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if cfg.RemoteURL != "" {
		wsURL, err := ResolveDebuggerURL(ctx, cfg.RemoteURL)
		if err != nil {
			return nil, err
		}
		logging.Info("Attaching to running Chrome%s", logging.KV("ws", wsURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	} else {
		chromePath := cfg.ExecPath
		if chromePath == "" {
			found, err := findChrome()
			if err != nil {
				return nil, err
			}
			chromePath = found
		}
		logging.Info("Using Chrome from: %s", chromePath)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(chromePath),
			chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("ignore-certificate-errors", true),
		)
		if !cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	bctx, cancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logging.Debug("[Chrome] "+format, v...)
		}),
	)

	d := &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         bctx,
		cancel:      cancel,
		timeouts:    TimeoutsFrom(cfg),
	}
	chromedp.ListenTarget(bctx, d.onEvent)

	// The browser context must outlive any timeout, so start it unbounded.
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}
	return d, nil
}

// onEvent dismisses JS dialogs so they cannot block the session
func (d *ChromeDriver) onEvent(ev interface{}) {
	e, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	d.mu.Lock()
	d.dialogs = append(d.dialogs, fmt.Sprintf("%s: %s", e.Type, e.Message))
	d.mu.Unlock()
	accept := e.Type == page.DialogTypeAlert
	logging.Warn("Dismissing JS dialog%s", logging.KV("type", e.Type, "message", e.Message))
	go func() {
		if err := chromedp.Run(d.ctx, page.HandleJavaScriptDialog(accept)); err != nil {
			logging.Debug("dialog dismiss failed: %v", err)
		}
	}()
}

// Dialogs returns and clears the JS dialogs dismissed since the last call
func (d *ChromeDriver) Dialogs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.dialogs
	d.dialogs = nil
	return out
}

// run executes actions bounded by timeout and by the caller's ctx
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return mapChromeErr(chromedp.Run(tctx, actions...))
}

func mapChromeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := err.Error()
	for _, marker := range []string{"Could not find node", "No node with given id", "Node is detached", "Cannot find context with specified id", "Execution context was destroyed"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrDetached, err)
		}
	}
	return err
}

func (d *ChromeDriver) eval(ctx context.Context, timeout time.Duration, call string, out any) error {
	return d.run(ctx, timeout, chromedp.Evaluate(expression(call), out))
}

func (d *ChromeDriver) read(ctx context.Context, call string) (readResult, error) {
	var res readResult
	if err := d.eval(ctx, d.timeouts.Read, call, &res); err != nil {
		return res, err
	}
	if !res.Found {
		return res, ErrNotFound
	}
	return res, nil
}

// mark tags the first match of t so chromedp can act on it by query
func (d *ChromeDriver) mark(ctx context.Context, t Target) error {
	var n int
	if err := d.eval(ctx, d.timeouts.Read, jsCall("mark", t), &n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	return nil
}

const hitQuery = `[data-uimap-hit="1"]`

func (d *ChromeDriver) Goto(ctx context.Context, url string) error {
	if err := d.run(ctx, d.timeouts.Action*4, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return WaitSettle(ctx, d.timeouts.Settle)
}

func (d *ChromeDriver) Location(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, d.timeouts.Read, chromedp.Location(&url))
	return url, err
}

func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	err := d.run(ctx, d.timeouts.Read, chromedp.Title(&title))
	return title, err
}

func (d *ChromeDriver) Count(ctx context.Context, t Target) (int, error) {
	var n int
	err := d.eval(ctx, d.timeouts.Read, jsCall("count", t), &n)
	return n, err
}

func (d *ChromeDriver) ReadAttribute(ctx context.Context, t Target, name string) (string, bool, error) {
	res, err := d.read(ctx, jsCall("attr", t, name))
	return res.Value, res.OK, err
}

func (d *ChromeDriver) ReadText(ctx context.Context, t Target) (string, error) {
	res, err := d.read(ctx, jsCall("text", t))
	return res.Value, err
}

func (d *ChromeDriver) ReadValue(ctx context.Context, t Target) (string, error) {
	res, err := d.read(ctx, jsCall("value", t))
	return res.Value, err
}

func (d *ChromeDriver) IsChecked(ctx context.Context, t Target) (bool, error) {
	res, err := d.read(ctx, jsCall("checked", t))
	return res.OK, err
}

func (d *ChromeDriver) IsVisible(ctx context.Context, t Target) (bool, error) {
	res, err := d.read(ctx, jsCall("visible", t))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return res.OK, err
}

func (d *ChromeDriver) Click(ctx context.Context, t Target) error {
	if err := d.mark(ctx, t); err != nil {
		return err
	}
	if err := d.run(ctx, d.timeouts.Action, chromedp.Click(hitQuery, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", t, err)
	}
	return WaitSettle(ctx, d.timeouts.Settle)
}

func (d *ChromeDriver) Fill(ctx context.Context, t Target, value string) error {
	if err := d.mark(ctx, t); err != nil {
		return err
	}
	err := d.run(ctx, d.timeouts.Action,
		chromedp.Focus(hitQuery, chromedp.ByQuery),
		chromedp.Clear(hitQuery, chromedp.ByQuery),
		chromedp.SendKeys(hitQuery, value, chromedp.ByQuery),
		chromedp.Evaluate(expression(jsCall("fire", t)), nil),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", t, err)
	}
	return nil
}

func (d *ChromeDriver) SelectOption(ctx context.Context, t Target, value string) error {
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

func (d *ChromeDriver) WaitFor(ctx context.Context, t Target, timeout time.Duration) error {
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

func (d *ChromeDriver) Press(ctx context.Context, key string) error {
	switch strings.ToLower(key) {
	case "escape", "esc":
		key = kb.Escape
	case "enter":
		key = kb.Enter
	}
	return d.run(ctx, d.timeouts.Action, chromedp.KeyEvent(key))
}

func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, d.timeouts.Action*2, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}

func (d *ChromeDriver) Evaluate(ctx context.Context, script string, out any) error {
	return d.run(ctx, d.timeouts.Action, chromedp.Evaluate(script, out))
}

func (d *ChromeDriver) Snapshot(ctx context.Context, opts SnapshotOptions) (*DOMSnapshot, error) {
	var res snapshotResult
	if err := d.eval(ctx, d.timeouts.Action, jsCall("annotate", map[string]string{
		"mainSelector":  opts.MainSelector,
		"modalSelector": opts.ModalSelector,
	}), &res); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return res.toSnapshot(), nil
}

// Close shuts the browser down
func (d *ChromeDriver) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}
