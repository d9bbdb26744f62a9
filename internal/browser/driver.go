package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

var (
	// ErrTimeout marks a read or action that did not finish in time
	ErrTimeout = errors.New("browser: timeout")
	// ErrDetached marks an element that vanished between resolve and act
	ErrDetached = errors.New("browser: element detached")
	// ErrNotFound marks a target that matched nothing
	ErrNotFound = errors.New("browser: element not found")
	// ErrUnsupported marks an operation the driver cannot perform
	ErrUnsupported = errors.New("browser: unsupported operation")
)

// Target locates elements: Selector is resolved inside the first match of
// Within (when set), inside Scope (a CSS root, empty for the document).
type Target struct {
	Scope    string          `json:"scope,omitempty"`
	Within   *types.Selector `json:"within,omitempty"`
	Selector types.Selector  `json:"selector"`
}

// For returns a document-wide target
func For(sel types.Selector) Target {
	return Target{Selector: sel}
}

// CSS returns a document-wide CSS target
func CSS(value string) Target {
	return Target{Selector: types.Selector{Kind: types.SelectorCSS, Value: value}}
}

func (t Target) String() string {
	s := t.Selector.String()
	if t.Within != nil {
		s = t.Within.String() + " >> " + s
	}
	if t.Scope != "" {
		s = t.Scope + " >> " + s
	}
	return s
}

// SnapshotOptions tells the driver how to find the active scope
type SnapshotOptions struct {
	MainSelector  string
	ModalSelector string
}

// DOMSnapshot is an annotated copy of the live document. Annotated
// elements carry data-uimap-* attributes with live state (visibility,
// values, checked state) so it can be probed offline.
type DOMSnapshot struct {
	URL        string
	Title      string
	HTML       string
	ScopeKind  types.NodeKind
	ModalTitle string
	FrameURL   string
	TakenAt    time.Time
}

// PageDriver is the only way the rest of the module touches a live UI.
// Multi-match targets act on the first match.
type PageDriver interface {
	Goto(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Count(ctx context.Context, t Target) (int, error)
	ReadAttribute(ctx context.Context, t Target, name string) (string, bool, error)
	ReadText(ctx context.Context, t Target) (string, error)
	ReadValue(ctx context.Context, t Target) (string, error)
	Click(ctx context.Context, t Target) error
	Fill(ctx context.Context, t Target, value string) error
	SelectOption(ctx context.Context, t Target, value string) error
	IsChecked(ctx context.Context, t Target) (bool, error)
	IsVisible(ctx context.Context, t Target) (bool, error)
	WaitFor(ctx context.Context, t Target, timeout time.Duration) error
	Press(ctx context.Context, key string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Evaluate(ctx context.Context, script string, out any) error
	Snapshot(ctx context.Context, opts SnapshotOptions) (*DOMSnapshot, error)
	Close() error
}

// Timeouts bound every driver call
type Timeouts struct {
	Read   time.Duration
	Action time.Duration
	Settle time.Duration
}

// TimeoutsFrom converts browser config into durations
func TimeoutsFrom(cfg config.BrowserConfig) Timeouts {
	return Timeouts{
		Read:   time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
		Action: time.Duration(cfg.ActionTimeoutMS) * time.Millisecond,
		Settle: time.Duration(cfg.SettleMS) * time.Millisecond,
	}
}

// DefaultTimeouts mirrors the config defaults
func DefaultTimeouts() Timeouts {
	return TimeoutsFrom(config.DefaultConfig().Browser)
}

// New opens the driver selected by cfg.Engine
func New(ctx context.Context, cfg config.BrowserConfig) (PageDriver, error) {
	switch cfg.Engine {
	case "", "chromedp":
		return NewChromeDriver(ctx, cfg)
	case "rod":
		return NewRodDriver(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

// IsTransient reports whether err is a timing failure worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrDetached) ||
		errors.Is(err, context.DeadlineExceeded)
}

// WaitSettle sleeps for d unless ctx ends first
func WaitSettle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
