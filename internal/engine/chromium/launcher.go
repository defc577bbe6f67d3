// Package chromium launches headless Chrome through go-rod and adapts it to
// the engine interfaces.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog"

	"pdfforge/internal/engine"
)

// Options configure both launch strategies.
type Options struct {
	// Bin is the browser executable. Required for serverless; optional locally.
	Bin    string
	Logger zerolog.Logger
}

// serverlessFlags is the minimal flag set for constrained sandboxes with a
// read-only filesystem and a tiny /dev/shm.
var serverlessFlags = map[flags.Flag][]string{
	"disable-gpu":                   nil,
	"single-process":                nil,
	"no-zygote":                     nil,
	"disable-dev-shm-usage":         nil,
	"disable-extensions":            nil,
	"disable-background-networking": nil,
	"disable-default-apps":          nil,
	"disable-sync":                  nil,
	"hide-scrollbars":               nil,
	"mute-audio":                    nil,
	"no-first-run":                  nil,
	"font-render-hinting":           {"none"},
	"disable-features":              {"Translate,BackForwardCache,MediaRouter"},
}

// NewLauncher selects the launch strategy for env. It is meant to be called
// once at process start.
func NewLauncher(env engine.Environment, opts Options) (engine.Launcher, error) {
	logger := opts.Logger.With().Str("component", "chromium").Str("env", string(env)).Logger()
	switch env {
	case engine.EnvServerless:
		bin := strings.TrimSpace(opts.Bin)
		if bin == "" {
			return nil, errors.New("chromium: serverless launch requires a browser binary")
		}
		return &serverlessLauncher{bin: bin, logger: logger}, nil
	case engine.EnvLocal:
		return &localLauncher{bin: strings.TrimSpace(opts.Bin), logger: logger, fetch: fetchManagedBrowser}, nil
	default:
		return nil, fmt.Errorf("chromium: unsupported environment %q", env)
	}
}

type serverlessLauncher struct {
	bin    string
	logger zerolog.Logger
}

func (l *serverlessLauncher) Name() string { return string(engine.EnvServerless) }

func (l *serverlessLauncher) Launch(ctx context.Context) (engine.Engine, error) {
	lc := launcher.New().
		Bin(l.bin).
		Headless(true).
		NoSandbox(true).
		Leakless(false)
	for name, values := range serverlessFlags {
		lc = lc.Set(name, values...)
	}
	return connect(ctx, lc, l.logger)
}

// localLauncher prefers an installed browser and falls back to the browser
// revision managed by rod.
type localLauncher struct {
	bin    string
	logger zerolog.Logger
	fetch  func() (string, error)
}

func (l *localLauncher) Name() string { return string(engine.EnvLocal) }

func (l *localLauncher) Launch(ctx context.Context) (engine.Engine, error) {
	bin := l.bin
	if bin == "" {
		if path, ok := lookPath(); ok {
			bin = path
		}
	}
	if bin != "" {
		eng, err := connect(ctx, launcher.New().Bin(bin).Headless(true), l.logger)
		if err == nil {
			return eng, nil
		}
		l.logger.Warn().Err(err).Str("bin", bin).Msg("chromium: system browser failed, falling back to managed browser")
	}
	path, err := l.fetch()
	if err != nil {
		return nil, fmt.Errorf("chromium: fetch managed browser: %w", err)
	}
	return connect(ctx, launcher.New().Bin(path).Headless(true), l.logger)
}

var lookPath = launcher.LookPath

func fetchManagedBrowser() (string, error) {
	return launcher.NewBrowser().Get()
}

func connect(ctx context.Context, lc *launcher.Launcher, logger zerolog.Logger) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("chromium: launch: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Kill()
		return nil, fmt.Errorf("chromium: connect: %w", err)
	}
	logger.Debug().Str("control_url", controlURL).Msg("chromium: browser launched")
	return &browser{browser: b, launcher: lc}, nil
}
