package chromium

import (
	"context"
	"fmt"
	"io"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pdfforge/internal/engine"
)

// blockedURLPatterns covers every scheme a document could fetch from. Markup
// is loaded with SetDocumentContent, so inline data: resources still work.
var blockedURLPatterns = []string{"http://*", "https://*", "ws://*", "wss://*", "ftp://*", "file://*"}

type browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *browser) OpenPage(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	p, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("chromium: open page: %w", err)
	}
	// Detach from the acquire context; the page lives as long as its lease.
	p = p.Context(context.Background())

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.ViewportWidth,
		Height:            opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("chromium: set viewport: %w", err)
	}
	if opts.DisableCache || opts.BlockNetwork {
		if err := (proto.NetworkEnable{}).Call(p); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("chromium: enable network domain: %w", err)
		}
	}
	if opts.BlockNetwork {
		if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLPatterns}).Call(p); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("chromium: block network: %w", err)
		}
	}
	if opts.DisableCache {
		if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(p); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("chromium: disable cache: %w", err)
		}
	}
	return &page{page: p, opts: opts}, nil
}

func (b *browser) Ping(ctx context.Context) error {
	_, err := proto.BrowserGetVersion{}.Call(b.browser.Context(ctx))
	return err
}

func (b *browser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

type page struct {
	page *rod.Page
	opts engine.PageOptions
}

func (p *page) SetContent(ctx context.Context, html string) error {
	pg := p.page.Context(ctx)
	if p.opts.NavigationTimeout > 0 {
		pg = pg.Timeout(p.opts.NavigationTimeout)
		defer pg.CancelTimeout()
	}
	if err := pg.SetDocumentContent(html); err != nil {
		return fmt.Errorf("chromium: set content: %w", err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("chromium: wait load: %w", err)
	}
	return nil
}

func (p *page) PrintPDF(ctx context.Context, opts engine.PrintOptions) ([]byte, error) {
	pg := p.page.Context(ctx)
	if p.opts.OperationTimeout > 0 {
		pg = pg.Timeout(p.opts.OperationTimeout)
		defer pg.CancelTimeout()
	}
	stream, err := pg.PDF(&proto.PagePrintToPDF{
		Landscape:       opts.Landscape,
		PrintBackground: opts.PrintBackground,
		PaperWidth:      inches(opts.PaperWidth),
		PaperHeight:     inches(opts.PaperHeight),
		MarginTop:       inches(opts.MarginTop),
		MarginBottom:    inches(opts.MarginBottom),
		MarginLeft:      inches(opts.MarginLeft),
		MarginRight:     inches(opts.MarginRight),
	})
	if err != nil {
		return nil, fmt.Errorf("chromium: print pdf: %w", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("chromium: read pdf stream: %w", err)
	}
	return data, nil
}

func (p *page) Close() error {
	return p.page.Close()
}

func inches(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
