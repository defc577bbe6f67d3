// Package render turns HTML markup into PDF bytes on a leased page.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdfforge/internal/engine"
	"pdfforge/internal/pool"
)

// MaxMarkupBytes bounds the document handed to the engine.
const MaxMarkupBytes = 2 << 20

// A4 with 10mm margins and backgrounds printed.
var defaultPrint = engine.PrintOptions{
	PaperWidth:      8.27,
	PaperHeight:     11.69,
	MarginTop:       0.39,
	MarginBottom:    0.39,
	MarginLeft:      0.39,
	MarginRight:     0.39,
	PrintBackground: true,
}

// Class separates failures worth retrying from those that never succeed.
type Class string

const (
	Transient Class = "transient"
	Permanent Class = "permanent"
)

// RenderError is returned for every render failure.
type RenderError struct {
	Class Class
	Op    string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent render failure.
func IsPermanent(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Class == Permanent
}

// IsTransient reports whether err carries a transient render failure.
func IsTransient(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Class == Transient
}

func permanent(op string, err error) error { return &RenderError{Class: Permanent, Op: op, Err: err} }
func transient(op string, err error) error { return &RenderError{Class: Transient, Op: op, Err: err} }

// InstanceChecker verifies the engine behind a lease after a failed render.
// *pool.Pool implements it.
type InstanceChecker interface {
	CheckInstance(ctx context.Context, instanceID string) error
}

const healthCheckTimeout = 5 * time.Second

// Renderer prints markup with fixed page options.
type Renderer struct {
	timeout time.Duration
	print   engine.PrintOptions
	health  InstanceChecker
}

// New returns a Renderer. A zero timeout means 30s per render.
func New(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout, print: defaultPrint}
}

// WithHealthCheck makes engine-side render failures ping the instance so a
// crashed engine stops receiving leases.
func (r *Renderer) WithHealthCheck(c InstanceChecker) *Renderer {
	r.health = c
	return r
}

// PrintOptions returns the fixed options used for every document.
func (r *Renderer) PrintOptions() engine.PrintOptions { return r.print }

// Render loads markup into the lease's page and prints it.
func (r *Renderer) Render(ctx context.Context, lease *pool.Lease, markup string) ([]byte, error) {
	if err := Validate(markup); err != nil {
		return nil, permanent("validate", err)
	}
	if lease == nil || lease.Page == nil {
		return nil, transient("lease", errors.New("no page leased"))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := lease.Page.SetContent(ctx, markup); err != nil {
		r.checkInstance(ctx, lease)
		return nil, transient("set_content", err)
	}
	pdf, err := lease.Page.PrintPDF(ctx, r.print)
	if err != nil {
		r.checkInstance(ctx, lease)
		return nil, transient("print", err)
	}
	if len(pdf) == 0 {
		return nil, transient("print", errors.New("engine returned empty document"))
	}
	return pdf, nil
}

// checkInstance runs on a detached context: the render deadline may already
// have passed.
func (r *Renderer) checkInstance(ctx context.Context, lease *pool.Lease) {
	if r.health == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthCheckTimeout)
	defer cancel()
	_ = r.health.CheckInstance(ctx, lease.InstanceID)
}

// Validate rejects markup no retry can fix.
func Validate(markup string) error {
	trimmed := strings.TrimSpace(markup)
	switch {
	case trimmed == "":
		return errors.New("markup is empty")
	case len(markup) > MaxMarkupBytes:
		return fmt.Errorf("markup is %d bytes, limit %d", len(markup), MaxMarkupBytes)
	case !strings.Contains(trimmed, "<") || !strings.Contains(trimmed, ">"):
		return errors.New("markup contains no tags")
	}
	return nil
}
