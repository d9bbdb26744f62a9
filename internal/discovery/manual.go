package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

// Recorder drains interaction events captured inside the page
type Recorder interface {
	Drain(ctx context.Context) ([]browser.RecordedEvent, error)
}

type pageRecorder struct {
	driver browser.PageDriver
}

// NewPageRecorder drains the injected sessionStorage recorder
func NewPageRecorder(d browser.PageDriver) Recorder {
	return &pageRecorder{driver: d}
}

func (r *pageRecorder) Drain(ctx context.Context) ([]browser.RecordedEvent, error) {
	var events []browser.RecordedEvent
	if err := r.driver.Evaluate(ctx, browser.DrainScript(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ManualCapture maps a UI while an operator clicks through it. Events are
// polled into a small queue and handled by a single consumer; rapid
// same-reason non-click events are coalesced by a debounce window.
type ManualCapture struct {
	session    *Session
	normalizer *classify.Normalizer
	recorder   Recorder
	poll       time.Duration
	debounce   time.Duration
	radioWait  time.Duration
	maxClicks  int

	// Stop ends the capture when closed (end of input)
	Stop <-chan struct{}
	// OnEntry is called from the consumer loop for every logged entry
	OnEntry func(types.ClickLogEntry)
}

// NewManualCapture wires a capture loop over a session
func NewManualCapture(s *Session, rec Recorder, cfg *config.Config, maxClicks int) *ManualCapture {
	classifier := classify.NewClassifier(nil, cfg.Discovery.AlertTokens)
	if maxClicks <= 0 {
		maxClicks = cfg.Discovery.MaxClicks
	}
	return &ManualCapture{
		session:    s,
		normalizer: classify.NewNormalizer(classifier, cfg.Classifier),
		recorder:   rec,
		poll:       msDuration(cfg.Discovery.PollIntervalMS),
		debounce:   msDuration(cfg.Discovery.DebounceMS),
		radioWait:  msDuration(cfg.Classifier.RadioWindowMS),
		maxClicks:  maxClicks,
	}
}

// RawFromEvent converts a recorded click into classifier input with the
// selectors a replay can use
func RawFromEvent(ev browser.RecordedEvent) classify.RawClick {
	raw := classify.RawClick{Timestamp: ev.TS, URL: ev.URL}
	t := ev.Target
	if t == nil {
		return raw
	}
	raw.Tag, raw.Role, raw.Type = t.Tag, t.Role, t.Type
	raw.ID, raw.Name, raw.Text = t.ID, t.Name, t.Text
	raw.Label, raw.AriaLabel = t.Label, t.AriaLabel
	raw.ForType, raw.ForText = t.ForType, t.ForText
	raw.Href, raw.CSS, raw.Subtree, raw.InModal = t.Href, t.CSS, t.Subtree, t.InModal
	raw.Selectors = EventSelectors(t)
	return raw
}

// EventSelectors builds selectors for a recorded target in the same
// priority order discovery uses
func EventSelectors(t *browser.EventTarget) []types.Selector {
	var out []types.Selector
	add := func(sel types.Selector, st types.Stability) {
		sel.Priority = types.IntPtr(len(out) + 1)
		sel.Stability = st
		out = append(out, sel)
	}
	name := browser.NormalizeText(t.Label)
	if t.Tag == "label" && t.ForText != "" {
		add(types.Selector{Kind: types.SelectorLabel, Text: t.ForText}, types.Stable)
	}
	if t.Role != "" && name != "" && len(name) <= 80 {
		add(types.Selector{Kind: types.SelectorRole, Role: t.Role, Name: name}, types.Stable)
	}
	if t.ID != "" {
		st := types.Stable
		if generatedID.MatchString(t.ID) {
			st = types.Fragile
		}
		add(types.Selector{Kind: types.SelectorCSS, Value: browser.IDSelector(t.ID)}, st)
	}
	if t.Name != "" {
		add(types.Selector{Kind: types.SelectorCSS, Value: browser.AttrSelector(t.Tag, "name", t.Name)}, types.Fragile)
	}
	if text := browser.NormalizeText(t.Text); text != "" && len(text) <= 60 && t.Role == "" {
		add(types.Selector{Kind: types.SelectorText, Text: text}, types.Fragile)
	}
	if t.CSS != "" {
		add(types.Selector{Kind: types.SelectorCSS, Value: t.CSS}, types.Fragile)
	}
	return out
}

// Coalesce drops non-click events that are followed by another event with
// the same reason before any click
func Coalesce(events []browser.RecordedEvent) []browser.RecordedEvent {
	var out []browser.RecordedEvent
	for i, ev := range events {
		if ev.Reason != "click" && i+1 < len(events) && events[i+1].Reason == ev.Reason {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Run captures until the stop channel closes, ctx ends or the click budget
// is spent, then flushes and returns what was discovered
func (m *ManualCapture) Run(ctx context.Context, startURL string) (*types.Discovery, error) {
	first, err := m.session.Start(ctx, startURL)
	if err != nil {
		return nil, err
	}
	m.emit(first)

	queue := make(chan browser.RecordedEvent, 64)
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go m.pollLoop(pollCtx, queue)

	clicks := 0
	var debounce, flush *time.Timer
	var debounceC, flushC <-chan time.Time
	pending := ""

	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		if flush != nil {
			flush.Stop()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-m.Stop:
			break loop
		case ev := <-queue:
			if ev.Reason != "click" || ev.Target == nil {
				if pending != "" && pending != ev.Reason {
					m.refresh(ctx, pending)
				}
				pending = ev.Reason
				if debounce == nil {
					debounce = time.NewTimer(m.debounce)
				} else {
					debounce.Reset(m.debounce)
				}
				debounceC = debounce.C
				continue
			}
			for _, c := range m.normalizer.Push(RawFromEvent(ev)) {
				clicks++
				m.observe(ctx, c)
			}
			if m.normalizer.Pending() {
				if flush == nil {
					flush = time.NewTimer(m.radioWait)
				} else {
					flush.Reset(m.radioWait)
				}
				flushC = flush.C
			}
			if clicks >= m.maxClicks {
				logging.Info("capture reached click budget%s", logging.KV("clicks", clicks))
				break loop
			}
		case <-debounceC:
			debounceC = nil
			if pending != "" {
				m.refresh(ctx, pending)
				pending = ""
			}
		case <-flushC:
			flushC = nil
			for _, c := range m.normalizer.Flush() {
				clicks++
				m.observe(ctx, c)
			}
		}
	}

	stopPolling()
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, c := range m.normalizer.Flush() {
		m.observe(flushCtx, c)
	}
	if pending != "" {
		m.refresh(flushCtx, pending)
	}
	return m.session.Result(), nil
}

func (m *ManualCapture) pollLoop(ctx context.Context, queue chan<- browser.RecordedEvent) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		events, err := m.recorder.Drain(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logging.Debug("recorder drain failed: %v", err)
			}
			continue
		}
		for _, ev := range Coalesce(events) {
			if ev.Reason != "click" {
				select {
				case queue <- ev:
				default:
					// a later mutation rescans anyway
				}
				continue
			}
			select {
			case queue <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *ManualCapture) observe(ctx context.Context, c classify.Classified) {
	entry, err := m.session.Observe(ctx, c)
	if err != nil {
		logging.Warn("click observation failed%s", logging.KV("label", c.Label, "kind", c.Kind, "err", err))
		return
	}
	m.emit(entry)
}

func (m *ManualCapture) refresh(ctx context.Context, reason string) {
	entry, err := m.session.Refresh(ctx, strings.ToLower(reason))
	if err != nil {
		logging.Debug("refresh failed%s", logging.KV("reason", reason, "err", err))
		return
	}
	m.emit(entry)
}

func (m *ManualCapture) emit(e *types.ClickLogEntry) {
	if e != nil && m.OnEntry != nil {
		m.OnEntry(*e)
	}
}
