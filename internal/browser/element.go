package browser

import (
	"fmt"
	"log"
	"time"

	"wayfinder-mcp-server/internal/exposure"

	"github.com/go-rod/rod"
)

// probeJS reads the observation facts of the first element matching a selector. A missing
// element reports connected=false.
const probeJS = `(selector) => {
	const el = document.querySelector(selector);
	if (!el || !el.isConnected) {
		return { connected: false };
	}
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	const vw = window.innerWidth || document.documentElement.clientWidth;
	const vh = window.innerHeight || document.documentElement.clientHeight;
	return {
		connected: true,
		intersecting: rect.bottom > 0 && rect.right > 0 && rect.top < vh && rect.left < vw,
		width: rect.width,
		height: rect.height,
		x: rect.x,
		y: rect.y,
		disabled: el.disabled === true || el.hasAttribute('disabled'),
		ariaDisabled: el.getAttribute('aria-disabled'),
		ariaBusy: el.getAttribute('aria-busy'),
		display: style.display,
		visibility: style.visibility,
		opacity: style.opacity
	};
}`

// probeResult is the raw shape returned by probeJS.
type probeResult struct {
	Connected    bool    `json:"connected"`
	Intersecting bool    `json:"intersecting"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Disabled     bool    `json:"disabled"`
	AriaDisabled *string `json:"ariaDisabled"`
	AriaBusy     *string `json:"ariaBusy"`
	Display      string  `json:"display"`
	Visibility   string  `json:"visibility"`
	Opacity      string  `json:"opacity"`
}

// facts converts a probe result into observation facts.
func (p probeResult) facts() exposure.ObservationFacts {
	if !p.Connected {
		return exposure.ObservationFacts{}
	}
	f := exposure.ObservationFacts{
		Connected:     true,
		Intersecting:  p.Intersecting,
		HasDimensions: p.Width > 0 && p.Height > 0,
		Disabled:      p.Disabled,
		AriaDisabled:  p.AriaDisabled != nil && *p.AriaDisabled == "true",
		Busy:          p.AriaBusy != nil && *p.AriaBusy == "true",
		HiddenByStyle: p.Display == "none" || p.Visibility == "hidden" || p.Visibility == "collapse" || p.Opacity == "0",
	}
	if f.HasDimensions {
		f.Position = &exposure.Rect{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
	}
	return f
}

// RodElement is an exposure.Element backed by a CSS selector on a live page. It carries no
// change signals, so the registry polls it.
type RodElement struct {
	page     *rod.Page
	selector string
	timeout  time.Duration
}

func NewRodElement(page *rod.Page, selector string, timeout time.Duration) *RodElement {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RodElement{page: page, selector: selector, timeout: timeout}
}

func (e *RodElement) Selector() string { return e.selector }

// Probe evaluates the probe script once.
func (e *RodElement) Probe() (exposure.ObservationFacts, error) {
	res, err := e.page.Timeout(e.timeout).Eval(probeJS, e.selector)
	if err != nil {
		return exposure.ObservationFacts{}, fmt.Errorf("probe %s: %w", e.selector, err)
	}
	var p probeResult
	if err := res.Value.Unmarshal(&p); err != nil {
		return exposure.ObservationFacts{}, fmt.Errorf("decode probe %s: %w", e.selector, err)
	}
	return p.facts(), nil
}

// Observe implements exposure.Element. A failed probe reads as a disconnected element.
func (e *RodElement) Observe() exposure.ObservationFacts {
	facts, err := e.Probe()
	if err != nil {
		log.Printf("[browser] warning: %v", err)
	}
	return facts
}
