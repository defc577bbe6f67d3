// Package engine describes the external rendering-engine processes the
// resource pool manages and the pages leased from them.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Environment selects the launch strategy once at startup.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvServerless Environment = "serverless"
)

// ParseEnvironment maps a configuration value to an Environment.
func ParseEnvironment(v string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(v))) {
	case EnvLocal, "":
		return EnvLocal, nil
	case EnvServerless:
		return EnvServerless, nil
	}
	return "", fmt.Errorf("engine: unknown environment %q", v)
}

// PageOptions are applied to every page opened for a lease.
type PageOptions struct {
	ViewportWidth     int
	ViewportHeight    int
	DisableCache      bool
	BlockNetwork      bool
	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
}

// DefaultPageOptions returns an A4-ish viewport with caching disabled so output
// is deterministic, and with all network fetches blocked.
func DefaultPageOptions() PageOptions {
	return PageOptions{
		ViewportWidth:     1240,
		ViewportHeight:    1754,
		DisableCache:      true,
		BlockNetwork:      true,
		NavigationTimeout: 30 * time.Second,
		OperationTimeout:  30 * time.Second,
	}
}

// PrintOptions control PDF output. Lengths are in inches.
type PrintOptions struct {
	PaperWidth      float64
	PaperHeight     float64
	MarginTop       float64
	MarginBottom    float64
	MarginLeft      float64
	MarginRight     float64
	PrintBackground bool
	Landscape       bool
}

// Engine is one running rendering-engine process.
type Engine interface {
	OpenPage(ctx context.Context, opts PageOptions) (Page, error)
	Ping(ctx context.Context) error
	Close() error
}

// Page is a leasable sub-resource of an Engine.
type Page interface {
	SetContent(ctx context.Context, html string) error
	PrintPDF(ctx context.Context, opts PrintOptions) ([]byte, error)
	Close() error
}

// Launcher starts new Engine processes.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (Engine, error)
}
