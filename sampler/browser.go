package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/contentvis/cvauto"
	"github.com/hazyhaar/contentvis/urlmetric"
)

const bindingName = "__odcv_state"

// collectScript measures every tracked element at load, before any scroll.
const collectScript = `() => {
	const cfgEl = document.getElementById('od-detect-config');
	const config = cfgEl ? JSON.parse(cfgEl.textContent) : {};
	const vw = window.innerWidth, vh = window.innerHeight;
	const rect = (r) => ({width: r.width, height: r.height, x: r.x, y: r.y,
		top: r.top, right: r.right, bottom: r.bottom, left: r.left});
	const elements = [];
	for (const el of document.querySelectorAll('[data-od-xpath]')) {
		const r = el.getBoundingClientRect();
		const left = Math.max(0, r.left), top = Math.max(0, r.top);
		const right = Math.min(vw, r.right), bottom = Math.min(vh, r.bottom);
		const iw = Math.max(0, right - left), ih = Math.max(0, bottom - top);
		const area = r.width * r.height;
		elements.push({
			xpath: el.getAttribute('data-od-xpath'),
			viewports: el.getAttribute('data-od-cv-auto-viewports'),
			intersectionRatio: area > 0 ? (iw * ih) / area : 0,
			intersectionRect: {width: iw, height: ih, x: left, y: top, top: top, right: left + iw, bottom: top + ih, left: left},
			boundingClientRect: rect(r),
		});
	}
	return JSON.stringify({config, viewport: {width: vw, height: vh}, elements});
}`

// listenScript forwards content-visibility state changes to the binding.
const listenScript = `() => {
	const onChange = (event) => {
		const el = event.currentTarget;
		window.` + bindingName + `(JSON.stringify({
			xpath: el.getAttribute('data-od-xpath'),
			skipped: event.skipped,
			height: el.getBoundingClientRect().height,
		}));
	};
	for (const el of document.querySelectorAll('[data-od-cv-auto-viewports][data-od-xpath]')) {
		el.addEventListener('contentvisibilityautostatechange', onChange);
	}
}`

// scrollScript scrolls to the bottom one viewport at a time.
const scrollScript = `async () => {
	const step = Math.max(200, window.innerHeight / 2);
	for (let y = 0; y < document.documentElement.scrollHeight; y += step) {
		window.scrollTo(0, y);
		await new Promise((r) => requestAnimationFrame(() => setTimeout(r, 50)));
	}
	window.scrollTo(0, document.documentElement.scrollHeight);
}`

// initializeScript imports the content-visibility module and subscribes it
// to the tracked entries.
const initializeScript = `async (url) => {
	window.__odcvModule = await import(url);
	await window.__odcvModule.initialize();
}`

// finalizeScript lets the module report its heights against the elements
// measured at load. It returns the extension data keyed by xpath.
const finalizeScript = `async (elements) => {
	const byXPath = new Map(elements.map((e) => [e.xpath, e]));
	const extended = {};
	await window.__odcvModule.finalize({
		getElementData: (xpath) => byXPath.get(xpath) || null,
		extendElementData: (xpath, props) => {
			extended[xpath] = Object.assign(extended[xpath] || {}, props);
		},
	});
	return JSON.stringify(extended);
}`

type stateChange struct {
	XPath   string  `json:"xpath"`
	Skipped bool    `json:"skipped"`
	Height  float64 `json:"height"`
}

// Sampler drives a Chrome instance.
type Sampler struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Sampler. Call Start before Sample.
func New(cfg Config) *Sampler {
	cfg.defaults()
	return &Sampler{cfg: cfg}
}

// Start launches Chrome or connects to the remote instance.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wsURL := s.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("sampler: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("sampler: connect: %w", err)
	}
	s.browser = b
	s.cfg.Logger.Info("sampler: browser ready", "url", wsURL)
	return nil
}

// Close shuts Chrome down.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch = nil
	}
	return err
}

func (s *Sampler) page() (*rod.Page, error) {
	s.mu.Lock()
	b := s.browser
	s.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("sampler: not started")
	}
	var page *rod.Page
	var err error
	if s.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("sampler: create tab: %w", err)
	}
	return page, nil
}

// Sample loads pageURL at width and returns the finalized URL metric along
// with the store URL announced by the page.
//
// When the page lists the content-visibility module, the module itself is
// imported and drives capture and finalization. Otherwise the Go Observer
// receives the state changes through a CDP binding.
func (s *Sampler) Sample(ctx context.Context, pageURL string, width int) (*urlmetric.URLMetric, string, error) {
	page, err := s.page()
	if err != nil {
		return nil, "", err
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: width, Height: s.cfg.Height, DeviceScaleFactor: 1,
	}); err != nil {
		return nil, "", fmt.Errorf("sampler: set viewport: %w", err)
	}

	obs := cvauto.NewObserver()
	binding := proto.RuntimeAddBinding{Name: bindingName}
	if err := binding.Call(page); err != nil {
		return nil, "", fmt.Errorf("sampler: add binding: %w", err)
	}
	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()
	wait := page.Context(listenCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var sc stateChange
		if err := json.Unmarshal([]byte(e.Payload), &sc); err != nil {
			s.cfg.Logger.Warn("sampler: bad state change payload", "error", err)
			return
		}
		if obs.StateChanged(sc.XPath, sc.Skipped, sc.Height) {
			s.cfg.Logger.Debug("sampler: height captured", "xpath", sc.XPath, "height", sc.Height)
		}
	})
	go wait()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, "", fmt.Errorf("sampler: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.cfg.Logger.Warn("sampler: wait load", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(collectScript)
	if err != nil {
		return nil, "", fmt.Errorf("sampler: collect: %w", err)
	}
	ps, err := ParsePageSample(res.Value.Str())
	if err != nil {
		return nil, "", err
	}

	moduleURL := ModuleURL(ps.Config)
	if moduleURL != "" {
		if _, err := page.Context(navCtx).Eval(initializeScript, moduleURL); err != nil {
			s.cfg.Logger.Warn("sampler: module import failed, using go observer", "module", moduleURL, "error", err)
			moduleURL = ""
		}
	}
	if moduleURL == "" {
		TrackAll(obs, ps)
		if _, err := page.Context(navCtx).Eval(listenScript); err != nil {
			return nil, "", fmt.Errorf("sampler: listen: %w", err)
		}
	}

	if _, err := page.Context(navCtx).Eval(scrollScript); err != nil {
		s.cfg.Logger.Warn("sampler: scroll", "url", pageURL, "error", err)
	}

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-time.After(s.cfg.Settle):
	}

	if moduleURL == "" {
		return Assemble(ps, obs), ps.Config.StoreURL, nil
	}
	res, err = page.Context(navCtx).Eval(finalizeScript, ps.Elements)
	if err != nil {
		return nil, "", fmt.Errorf("sampler: finalize: %w", err)
	}
	var ext map[string]map[string]any
	if err := json.Unmarshal([]byte(res.Value.Str()), &ext); err != nil {
		return nil, "", fmt.Errorf("sampler: decode finalize: %w", err)
	}
	return AssembleExtended(ps, ext), ps.Config.StoreURL, nil
}

// Run samples pageURL once per viewport group and submits every metric. It
// returns the number of metrics stored.
func (s *Sampler) Run(ctx context.Context, pageURL string, breakpoints []int) (int, error) {
	stored := 0
	for _, w := range Widths(breakpoints) {
		m, storeURL, err := s.Sample(ctx, pageURL, w)
		if err != nil {
			return stored, err
		}
		if err := s.submit(ctx, storeURL, m); err != nil {
			if ctx.Err() != nil {
				return stored, ctx.Err()
			}
			s.cfg.Logger.Warn("sampler: submit failed", "url", pageURL, "width", w, "error", err)
			continue
		}
		stored++
		s.cfg.Logger.Info("sampler: url metric stored", "url", pageURL, "width", w, "elements", len(m.Elements))
	}
	return stored, nil
}
