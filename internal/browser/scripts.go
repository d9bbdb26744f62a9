package browser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/lance13c/uimap/internal/types"
)

// helperJS installs window.__uimap once per document. Its selector rules
// mirror query.go so live and offline resolution agree.
const helperJS = `(() => {
if (window.__uimap) return;
const norm = s => String(s == null ? '' : s).replace(/\s+/g, ' ').trim();
const lower = s => norm(s).toLowerCase();
const CONTROL = 'input,select,textarea,button,[role=switch],[role=checkbox],[role=combobox],[role=radio],[role=spinbutton],[role=textbox],[role=button],[role=listbox],[role=slider]';
const MODAL = '[role=dialog],[role=alertdialog],dialog[open],.modal.show,.modal.in,.ui-dialog';
const KEY = '__uimapEvents';

function roleOf(el) {
  const explicit = norm(el.getAttribute('role')).split(' ')[0];
  if (explicit) return explicit;
  const tag = el.tagName.toLowerCase();
  const type = lower(el.getAttribute('type'));
  switch (tag) {
    case 'a': return el.hasAttribute('href') ? 'link' : '';
    case 'button': return 'button';
    case 'select': return el.multiple ? 'listbox' : 'combobox';
    case 'option': return 'option';
    case 'textarea': return 'textbox';
    case 'dialog': return 'dialog';
    case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
    case 'input':
      switch (type) {
        case 'button': case 'submit': case 'reset': case 'image': return 'button';
        case 'checkbox': return 'checkbox';
        case 'radio': return 'radio';
        case 'number': return 'spinbutton';
        case 'range': return 'slider';
        case 'hidden': return '';
        default: return 'textbox';
      }
  }
  return '';
}

function textWithoutControls(el) {
  let out = '';
  el.childNodes.forEach(n => {
    if (n.nodeType === 3) out += n.textContent + ' ';
    else if (n.nodeType === 1 && !n.matches('input,select,textarea,button')) out += textWithoutControls(n) + ' ';
  });
  return norm(out);
}

function labelledBy(el) {
  const ids = norm(el.getAttribute('aria-labelledby'));
  if (!ids) return '';
  return norm(ids.split(' ').map(id => {
    const n = document.getElementById(id);
    return n ? n.textContent : '';
  }).join(' '));
}

function forLabel(el) {
  if (!el.id) return null;
  return document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
}

function nameOf(el) {
  const aria = norm(el.getAttribute('aria-label'));
  if (aria) return aria;
  const lb = labelledBy(el);
  if (lb) return lb;
  const tag = el.tagName.toLowerCase();
  if (tag === 'input' || tag === 'select' || tag === 'textarea') {
    const f = forLabel(el);
    if (f && textWithoutControls(f)) return textWithoutControls(f);
    const wrap = el.closest('label');
    if (wrap && textWithoutControls(wrap)) return textWithoutControls(wrap);
    const type = lower(el.getAttribute('type'));
    if (type === 'button' || type === 'submit' || type === 'reset') return norm(el.value);
    return norm(el.getAttribute('title')) || norm(el.getAttribute('placeholder'));
  }
  return norm(el.textContent) || norm(el.getAttribute('title'));
}

function inDocOrder(root, set) {
  return Array.from(root.querySelectorAll('*')).filter(el => set.has(el));
}

function matchLabel(root, text) {
  const want = lower(text);
  const out = new Set();
  root.querySelectorAll('label').forEach(l => {
    if (lower(textWithoutControls(l)) !== want) return;
    let c = null;
    const f = l.getAttribute('for');
    if (f) c = document.getElementById(f);
    if (!c) c = l.querySelector(CONTROL);
    if (c && root.contains(c)) out.add(c);
  });
  root.querySelectorAll('[aria-label],[aria-labelledby]').forEach(el => {
    if (lower(el.getAttribute('aria-label')) === want || lower(labelledBy(el)) === want) out.add(el);
  });
  return inDocOrder(root, out);
}

function matchRole(root, role, name) {
  const want = lower(name);
  return Array.from(root.querySelectorAll('*')).filter(el => roleOf(el) === role && (!want || lower(nameOf(el)) === want));
}

function matchText(root, text) {
  const want = lower(text);
  const hits = Array.from(root.querySelectorAll('*')).filter(el => lower(el.textContent) === want);
  return hits.filter(el => !hits.some(o => o !== el && el.contains(o)));
}

function match(root, sel) {
  switch (sel.kind) {
    case 'css':
      try { return Array.from(root.querySelectorAll(sel.value)); } catch (e) { return []; }
    case 'label': return matchLabel(root, sel.text);
    case 'role': return matchRole(root, sel.role, sel.name);
    case 'text': return matchText(root, sel.text);
  }
  return [];
}

function resolve(t) {
  let root = document;
  if (t.scope) {
    root = document.querySelector(t.scope);
    if (!root) return [];
  }
  if (t.within) {
    const w = match(root, t.within);
    if (!w.length) return [];
    root = w[0];
  }
  return match(root, t.selector);
}

function first(t) {
  const els = resolve(t);
  return els.length ? els[0] : null;
}

function visible(el) {
  if (!el || !el.isConnected) return false;
  const st = getComputedStyle(el);
  if (st.display === 'none' || st.visibility === 'hidden') return false;
  if (el.closest('[aria-hidden="true"]')) return false;
  const r = el.getBoundingClientRect();
  if (r.width > 0 || r.height > 0) return true;
  if (el.tagName.toLowerCase() === 'input' && (el.type === 'radio' || el.type === 'checkbox')) {
    const l = el.closest('label') || forLabel(el);
    return !!(l && visible(l));
  }
  return false;
}

function enabled(el) {
  return !(el.disabled || el.closest('fieldset[disabled]') || el.getAttribute('aria-disabled') === 'true');
}

function fire(el) {
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
}

function annotate(opts) {
  document.querySelectorAll('[data-uimap-scope]').forEach(n => n.removeAttribute('data-uimap-scope'));
  let modal = null;
  if (opts.modalSelector) {
    let cands = [];
    try { cands = Array.from(document.querySelectorAll(opts.modalSelector)).filter(visible); } catch (e) {}
    modal = cands.length ? cands[cands.length - 1] : null;
  }
  if (modal) modal.setAttribute('data-uimap-scope', 'modal');
  document.querySelectorAll(CONTROL + ',option,[role=option],[role=tab],[role=menuitem],a[href],label,[role=radiogroup],fieldset').forEach(el => {
    el.setAttribute('data-uimap-visible', visible(el) ? '1' : '0');
    el.setAttribute('data-uimap-enabled', enabled(el) ? '1' : '0');
    const tag = el.tagName.toLowerCase();
    if (tag === 'input' || tag === 'textarea' || tag === 'select') el.setAttribute('data-uimap-value', el.value == null ? '' : String(el.value));
    if (tag === 'option') el.setAttribute('data-uimap-selected', el.selected ? '1' : '0');
    if (tag === 'input' && (el.type === 'checkbox' || el.type === 'radio')) el.setAttribute('data-uimap-checked', el.checked ? '1' : '0');
  });
  let modalTitle = '';
  if (modal) {
    const h = modal.querySelector('h1,h2,h3,h4,.modal-title,.dialog-title,.ui-dialog-title');
    modalTitle = norm(modal.getAttribute('aria-label')) || labelledBy(modal) || (h ? norm(h.textContent) : '');
  }
  return {
    url: location.href,
    title: document.title,
    html: document.documentElement.outerHTML,
    modal: !!modal,
    modalTitle: modalTitle,
    frameUrl: window === window.top ? '' : location.href
  };
}

function selectValue(t, v) {
  const el = first(t);
  if (!el) return 'missing';
  if (el.tagName.toLowerCase() !== 'select') return 'not_select';
  const want = lower(v);
  const opts = Array.from(el.options);
  const opt = opts.find(o => o.value === v) || opts.find(o => lower(o.textContent) === want);
  if (!opt) return 'no_option';
  el.value = opt.value;
  fire(el);
  return 'ok';
}

function cssPath(el) {
  const parts = [];
  while (el && el.nodeType === 1 && parts.length < 6) {
    let p = el.tagName.toLowerCase();
    if (el.id) { parts.unshift(p + '#' + CSS.escape(el.id)); break; }
    const sib = el.parentElement ? Array.from(el.parentElement.children).filter(c => c.tagName === el.tagName) : [];
    if (sib.length > 1) p += ':nth-of-type(' + (sib.indexOf(el) + 1) + ')';
    parts.unshift(p);
    el = el.parentElement;
  }
  return parts.join(' > ');
}

function push(ev) {
  try {
    const q = JSON.parse(sessionStorage.getItem(KEY) || '[]');
    q.push(ev);
    sessionStorage.setItem(KEY, JSON.stringify(q.slice(-500)));
  } catch (e) {
    (window.__uimapQueue = window.__uimapQueue || []).push(ev);
  }
}

function describe(el) {
  const tag = el.tagName.toLowerCase();
  let forType = '', forText = '';
  if (tag === 'label') {
    const c = el.control || (el.htmlFor && document.getElementById(el.htmlFor));
    if (c) { forType = lower(c.type || c.tagName); forText = nameOf(c); }
  }
  const sub = el.closest('tr,li,fieldset,.form-group,.row,[role=radiogroup],[role=group],form,section');
  return {
    tag: tag, role: roleOf(el), type: lower(el.getAttribute('type')), id: el.id || '',
    name: el.getAttribute('name') || '', text: norm(el.innerText || el.textContent).slice(0, 300),
    ariaLabel: norm(el.getAttribute('aria-label')), label: nameOf(el).slice(0, 300),
    forType: forType, forText: forText, href: el.getAttribute('href') || '',
    value: el.value != null ? String(el.value) : '', css: cssPath(el),
    subtree: sub ? cssPath(sub) : '', inModal: !!el.closest(MODAL)
  };
}

function install() {
  if (window.__uimapRecorder) return;
  window.__uimapRecorder = true;
  document.addEventListener('click', e => {
    let target = e.target;
    if (target && target.closest) target = target.closest('a,button,input,select,textarea,label,summary,option,[role],[onclick]') || target;
    if (!target || target.nodeType !== 1) return;
    push({ reason: 'click', ts: Date.now(), url: location.href, target: describe(target) });
  }, true);
  window.addEventListener('hashchange', () => push({ reason: 'navigation', ts: Date.now(), url: location.href }));
  let pending = false;
  new MutationObserver(() => {
    if (pending) return;
    pending = true;
    setTimeout(() => { pending = false; push({ reason: 'mutation', ts: Date.now(), url: location.href }); }, 100);
  }).observe(document.documentElement, { childList: true, subtree: true, attributes: true, attributeFilter: ['class', 'style', 'hidden', 'open', 'aria-hidden', 'aria-expanded'] });
}

function drain() {
  install();
  let q = [];
  try { q = JSON.parse(sessionStorage.getItem(KEY) || '[]'); sessionStorage.removeItem(KEY); } catch (e) {}
  if (window.__uimapQueue) { q = q.concat(window.__uimapQueue); window.__uimapQueue = []; }
  return q;
}

window.__uimap = {
  count: t => resolve(t).length,
  mark: t => {
    document.querySelectorAll('[data-uimap-hit]').forEach(n => n.removeAttribute('data-uimap-hit'));
    const els = resolve(t);
    if (els.length) els[0].setAttribute('data-uimap-hit', '1');
    return els.length;
  },
  attr: (t, name) => {
    const el = first(t);
    return el ? { found: true, ok: el.hasAttribute(name), value: el.getAttribute(name) || '' } : { found: false };
  },
  text: t => {
    const el = first(t);
    return el ? { found: true, value: norm(el.innerText || el.textContent) } : { found: false };
  },
  value: t => {
    const el = first(t);
    return el ? { found: true, value: el.value == null ? norm(el.textContent) : String(el.value) } : { found: false };
  },
  checked: t => {
    const el = first(t);
    if (!el) return { found: false };
    if (el.tagName.toLowerCase() === 'input' && (el.type === 'checkbox' || el.type === 'radio')) return { found: true, ok: el.checked };
    return { found: true, ok: el.getAttribute('aria-checked') === 'true' || el.getAttribute('aria-pressed') === 'true' };
  },
  visible: t => {
    const el = first(t);
    return el ? { found: true, ok: visible(el) } : { found: false };
  },
  fire: t => {
    const el = first(t);
    if (el) fire(el);
    return { found: !!el };
  },
  select: selectValue,
  annotate: annotate,
  install: install,
  drain: drain
};
})();`

// jsCall renders a call into the helper, JSON-encoding every argument
func jsCall(fn string, args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			data = []byte("null")
		}
		parts = append(parts, string(data))
	}
	return "window.__uimap." + fn + "(" + strings.Join(parts, ",") + ")"
}

// expression prefixes a helper call with the installer
func expression(call string) string {
	return helperJS + "\n" + call
}

// readResult is the common shape of helper read calls
type readResult struct {
	Found bool   `json:"found"`
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

type snapshotResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	HTML       string `json:"html"`
	Modal      bool   `json:"modal"`
	ModalTitle string `json:"modalTitle"`
	FrameURL   string `json:"frameUrl"`
}

// RecordedEvent is one entry drained from the page-side recorder
type RecordedEvent struct {
	Reason string       `json:"reason"`
	TS     int64        `json:"ts"`
	URL    string       `json:"url"`
	Target *EventTarget `json:"target,omitempty"`
}

// EventTarget describes the clicked element as seen by the recorder
type EventTarget struct {
	Tag       string `json:"tag"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	AriaLabel string `json:"ariaLabel"`
	Label     string `json:"label"`
	ForType   string `json:"forType"`
	ForText   string `json:"forText"`
	Href      string `json:"href"`
	Value     string `json:"value"`
	CSS       string `json:"css"`
	Subtree   string `json:"subtree"`
	InModal   bool   `json:"inModal"`
}

// DrainScript returns the expression that installs the recorder and
// returns pending events
func DrainScript() string {
	return expression(jsCall("drain"))
}

func (r snapshotResult) toSnapshot() *DOMSnapshot {
	snap := &DOMSnapshot{
		URL:        r.URL,
		Title:      r.Title,
		HTML:       r.HTML,
		ScopeKind:  types.KindPage,
		ModalTitle: r.ModalTitle,
		FrameURL:   r.FrameURL,
		TakenAt:    time.Now(),
	}
	if r.Modal {
		snap.ScopeKind = types.KindModal
	}
	return snap
}
