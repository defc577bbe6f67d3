// Package markup turns a job prompt into the HTML document that gets printed.
package markup

import (
	"context"
)

// Provider names reported in Document.Provider.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
)

// Request carries what a generator needs from the job.
type Request struct {
	JobID   string
	Prompt  string
	Tier    string
	OwnerID *string
}

// Document is generated HTML plus where it came from.
type Document struct {
	Title          string
	HTML           string
	Provider       string
	FallbackReason string
}

// Generator produces printable HTML for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Document, error)
}
