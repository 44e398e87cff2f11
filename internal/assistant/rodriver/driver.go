// Package rodriver drives a stealth Chromium session with rod for the
// submission assistant.
package rodriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/assistant"
	"github.com/spigell/job-pilot/internal/listing"
	"github.com/spigell/job-pilot/internal/utils"
)

const (
	defaultStartURL      = "https://www.linkedin.com/jobs/"
	defaultTimeout       = 30 * time.Second
	defaultScreenshotDir = "logs/screenshots"
	elementTimeout       = 5 * time.Second
	modalTimeout         = 10 * time.Second
	settleDelay          = time.Second
)

type Config struct {
	Bin      string `mapstructure:"bin"`
	Headless bool   `mapstructure:"headless"`
	// UserDataDir keeps the browser profile, and with it the login, between launches.
	UserDataDir   string        `mapstructure:"user-data-dir"`
	StartURL      string        `mapstructure:"start-url"`
	ScreenshotDir string        `mapstructure:"screenshot-dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.StartURL == "" {
		c.StartURL = defaultStartURL
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = defaultScreenshotDir
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Launcher starts a visible Chromium the operator logs into.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg.withDefaults(), logger: logger}
}

func (l *Launcher) Launch(ctx context.Context) (assistant.Driver, error) {
	cfg := l.cfg

	lnch := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		lnch = lnch.Bin(cfg.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		lnch = lnch.Bin(path)
	}
	if cfg.UserDataDir != "" {
		lnch = lnch.UserDataDir(cfg.UserDataDir)
	}

	controlURL, err := lnch.Launch()
	if err != nil {
		return nil, apperr.ExternalCapability("launching chromium", err, false)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lnch.Kill()
		return nil, apperr.ExternalCapability("connecting to chromium", err, false)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		lnch.Kill()
		return nil, apperr.ExternalCapability("opening stealth page", err, false)
	}

	d := &Driver{cfg: cfg, browser: browser, launcher: lnch, page: page, logger: l.logger}
	if err := d.Open(ctx, cfg.StartURL); err != nil {
		l.logger.Warn("start page did not load", zap.String("url", cfg.StartURL), zap.Error(err))
	}

	l.logger.Info("browser launched", zap.Bool("headless", cfg.Headless), zap.String("start_url", cfg.StartURL))
	return d, nil
}

// Driver implements assistant.Driver on one rod page. The search tab used
// for capture may be any page of the browser.
type Driver struct {
	cfg      Config
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	logger   *zap.Logger
}

var _ assistant.Driver = (*Driver)(nil)

type card struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	IsEasyApply bool   `json:"is_easy_apply"`
}

func (d *Driver) Capture(ctx context.Context) ([]listing.Posting, error) {
	tab, err := d.searchTab()
	if err != nil {
		return nil, err
	}

	res, err := tab.Context(ctx).Timeout(d.cfg.Timeout).Eval(captureScript)
	if err != nil {
		return nil, transient("reading job cards", err)
	}

	var cards []card
	if err := json.Unmarshal([]byte(res.Value.Str()), &cards); err != nil {
		return nil, apperr.ExternalCapability("decoding job cards", err, false)
	}
	if len(cards) == 0 {
		d.logger.Warn("no job cards on page")
	}
	return postings(cards), nil
}

func (d *Driver) Open(ctx context.Context, url string) error {
	p := d.page.Context(ctx).Timeout(d.cfg.Timeout)
	if err := p.Navigate(url); err != nil {
		return transient("navigating to "+url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return transient("loading "+url, err)
	}
	return nil
}

func (d *Driver) StartApplication(ctx context.Context) error {
	p := d.page.Context(ctx)

	if has, _, err := p.Has(modalSelector); err != nil {
		return transient("looking for application form", err)
	} else if has {
		return nil
	}

	for _, sel := range easyApplySelectors {
		has, button, err := p.Has(sel)
		if err != nil {
			return transient("looking for apply button", err)
		}
		if !has {
			continue
		}
		if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return transient("clicking apply button", err)
		}
		if _, err := p.Timeout(modalTimeout).Element(modalSelector); err != nil {
			return transient("waiting for application form", err)
		}
		return nil
	}
	return apperr.ManualNeeded("Easy Apply button not found on page")
}

func (d *Driver) Fields(ctx context.Context) ([]assistant.Field, error) {
	res, err := d.page.Context(ctx).Timeout(elementTimeout).Eval(fieldsScript, modalSelector, fieldAttr)
	if err != nil {
		return nil, transient("reading form fields", err)
	}
	var fields []assistant.Field
	if err := json.Unmarshal([]byte(res.Value.Str()), &fields); err != nil {
		return nil, apperr.ExternalCapability("decoding form fields", err, false)
	}
	return fields, nil
}

func (d *Driver) Fill(ctx context.Context, f assistant.Field, value string) error {
	p := d.page.Context(ctx).Timeout(elementTimeout)
	sel := fieldSelector(f.ID)

	switch f.Kind {
	case assistant.FieldRadio, assistant.FieldCheckbox:
		res, err := p.Eval(chooseScript, sel, value)
		if err != nil {
			return transient("choosing "+f.Label, err)
		}
		if !res.Value.Bool() {
			return apperr.ManualNeeded("option %q not found for %q", value, f.Label)
		}
		return nil
	}

	el, err := p.Element(sel)
	if err != nil {
		return transient("finding "+f.Label, err)
	}

	switch f.Kind {
	case assistant.FieldText:
		if err := el.SelectAllText(); err != nil {
			return transient("selecting "+f.Label, err)
		}
		err = el.Input(value)
	case assistant.FieldSelect:
		err = el.Select([]string{value}, true, rod.SelectorTypeText)
	case assistant.FieldFile:
		err = el.SetFiles([]string{value})
	default:
		return apperr.ManualNeeded("unsupported field %q", f.Label)
	}
	if err != nil {
		return transient("filling "+f.Label, err)
	}
	return nil
}

func (d *Driver) Step(ctx context.Context) (assistant.Step, error) {
	p := d.page.Context(ctx)
	if has, _, err := p.Has(submitSelector); err != nil {
		return "", transient("looking for submit button", err)
	} else if has {
		return assistant.StepSubmit, nil
	}
	if has, _, err := p.Has(nextSelector); err != nil {
		return "", transient("looking for next button", err)
	} else if has {
		return assistant.StepNext, nil
	}
	return assistant.StepUnknown, nil
}

func (d *Driver) Next(ctx context.Context) error {
	return d.click(ctx, nextSelector, "next")
}

func (d *Driver) FormErrors(ctx context.Context) (bool, error) {
	if err := utils.Sleep(ctx, settleDelay); err != nil {
		return false, err
	}
	has, _, err := d.page.Context(ctx).Has(errorSelector)
	if err != nil {
		return false, transient("looking for form errors", err)
	}
	return has, nil
}

func (d *Driver) Submit(ctx context.Context) error {
	return d.click(ctx, submitSelector, "submit")
}

func (d *Driver) Confirmed(ctx context.Context, timeout time.Duration) (bool, error) {
	p := d.page.Context(ctx)
	_, err := p.Timeout(timeout).Race().
		Element(confirmModal).
		ElementR("h3", "Application submitted").
		Do()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, transient("waiting for confirmation", err)
	}

	if has, el, err := p.Has(dismissButton); err == nil && has {
		_ = el.Click(proto.InputMouseButtonLeft, 1)
	}
	return true, nil
}

func (d *Driver) Screenshot(ctx context.Context, name string) (string, error) {
	data, err := d.page.Context(ctx).Timeout(elementTimeout).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	if err := os.MkdirAll(d.cfg.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(d.cfg.ScreenshotDir, screenshotName(name, time.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (d *Driver) Close() error {
	err := d.browser.Close()
	if d.cfg.UserDataDir == "" {
		d.launcher.Cleanup()
	} else {
		d.launcher.Kill()
	}
	return err
}

func (d *Driver) click(ctx context.Context, selector, what string) error {
	has, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return transient("looking for "+what+" button", err)
	}
	if !has {
		return apperr.ManualNeeded("%s button not found", what)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return transient("clicking "+what, err)
	}
	return nil
}

func (d *Driver) searchTab() (*rod.Page, error) {
	pages, err := d.browser.Pages()
	if err != nil {
		return nil, transient("listing tabs", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if isSearchTab(info.URL) {
			return p, nil
		}
	}
	return nil, apperr.NotReady("no job search tab is open, navigate to a search first")
}

func isSearchTab(url string) bool {
	for _, marker := range searchTabMarkers {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

func postings(cards []card) []listing.Posting {
	out := make([]listing.Posting, 0, len(cards))
	for _, c := range cards {
		if c.URL == "" || strings.TrimSpace(c.Title) == "" {
			continue
		}
		company := strings.TrimSpace(c.Company)
		if company == "" {
			company = "Unknown"
		}
		location := strings.TrimSpace(c.Location)
		if location == "" {
			location = "Remote"
		}
		out = append(out, listing.Posting{
			URL:         c.URL,
			Title:       strings.TrimSpace(c.Title),
			Company:     company,
			Location:    location,
			Source:      assistant.CaptureOrigin,
			IsEasyApply: c.IsEasyApply,
		})
	}
	return out
}

func fieldSelector(id string) string {
	return fmt.Sprintf(`[%s="%s"]`, fieldAttr, id)
}

func screenshotName(name string, at time.Time) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return fmt.Sprintf("%s_%s.png", clean, at.Format("2006-01-02_15-04-05"))
}

func transient(action string, err error) error {
	return apperr.ExternalCapability(action, err, true)
}
