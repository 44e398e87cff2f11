package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// PDFPrinter prints an HTML document.
type PDFPrinter interface {
	PDF(ctx context.Context, html []byte) ([]byte, error)
}

// RodPrinter prints with a headless chromium started per call.
type RodPrinter struct {
	Bin     string
	Timeout time.Duration
}

func (p *RodPrinter) PDF(ctx context.Context, html []byte) ([]byte, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	launch := launcher.New().Context(ctx).Headless(true).NoSandbox(true)
	if p.Bin != "" {
		launch = launch.Bin(p.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	page = page.Timeout(timeout)

	if err := page.SetDocumentContent(string(html)); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	return io.ReadAll(reader)
}
