package markup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
)

// KeyLookup resolves an API key at call time, e.g. from the credential store.
type KeyLookup func(ctx context.Context) (string, error)

type OpenAIOptions struct {
	APIKey       string
	KeyLookup    KeyLookup
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Fallback     Generator
	OnFallback   func(reason string, err error)
	OnWarning    func(reason, detail string)
}

// OpenAIGenerator asks an OpenAI-compatible chat completion endpoint for the
// document body. Any failure degrades to Fallback so a job is never stuck on
// the upstream model.
type OpenAIGenerator struct {
	apiKey       string
	keyLookup    KeyLookup
	model        string
	baseURL      string
	organization string
	client       *http.Client
	fallback     Generator
	onFallback   func(reason string, err error)
}

const openAIDefaultTimeout = 20 * time.Second

const defaultOpenAIModel = "gpt-4o-mini"

var openAIModelCanonical = map[string]string{
	"gpt-4o-mini": "gpt-4o-mini",
	"gpt-4o":      "gpt-4o",
}

var openAIModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelDocumentPayload struct {
	Title    string `json:"title"`
	BodyHTML string `json:"body_html"`
}

const systemPrompt = "You write print-ready business documents. Respond only with JSON of the form " +
	`{"title":string,"body_html":string}` +
	". body_html is the inner HTML of <main>: headings, paragraphs, lists and tables only. No scripts, no external resources."

func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" && opts.KeyLookup == nil {
		return nil, errors.New("openai api key or key lookup is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := normalizeOpenAIModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", coalesce(modelInput, defaultOpenAIModel), model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticGenerator()
	}
	return &OpenAIGenerator{
		apiKey:       strings.TrimSpace(opts.APIKey),
		keyLookup:    opts.KeyLookup,
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		fallback:     fallback,
		onFallback:   opts.OnFallback,
	}, nil
}

func (o *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Document, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("markup: prompt is empty")
	}
	apiKey, err := o.resolveKey(ctx)
	if err != nil {
		return o.useFallback(ctx, req, "key_lookup", err)
	}
	if apiKey == "" {
		return o.useFallback(ctx, req, "missing_api_key", nil)
	}
	payload := openAIChatRequest{
		Model:       o.model,
		Temperature: 0.4,
		ResponseFormat: &openAIFormat{
			Type: "json_object",
		},
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return o.useFallback(ctx, req, "encode_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return o.useFallback(ctx, req, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return o.useFallback(ctx, req, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return o.useFallback(ctx, req, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("openai status %d", resp.StatusCode))
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return o.useFallback(ctx, req, "decode_response", err)
	}
	if len(out.Choices) == 0 {
		return o.useFallback(ctx, req, "empty_choices", errors.New("no choices"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return o.useFallback(ctx, req, "empty_response", errors.New("empty response"))
	}
	parsed, err := parseModelPayload[modelDocumentPayload](text)
	if err != nil {
		return o.useFallback(ctx, req, "parse_payload", err)
	}
	body := sanitizeBody(parsed.BodyHTML)
	if strings.TrimSpace(body) == "" {
		return o.useFallback(ctx, req, "empty_body", errors.New("empty body_html"))
	}
	title := coalesce(parsed.Title, titleFromPrompt(req.Prompt))
	html, err := renderPage(pageData{
		Title: title,
		Tier:  coalesce(req.Tier, "standard"),
		JobID: req.JobID,
		Body:  template.HTML(body),
	})
	if err != nil {
		return o.useFallback(ctx, req, "render_template", err)
	}
	return &Document{Title: title, HTML: html, Provider: ProviderOpenAI}, nil
}

func (o *OpenAIGenerator) resolveKey(ctx context.Context) (string, error) {
	if o.apiKey != "" {
		return o.apiKey, nil
	}
	if o.keyLookup == nil {
		return "", nil
	}
	key, err := o.keyLookup(ctx)
	return strings.TrimSpace(key), err
}

func (o *OpenAIGenerator) useFallback(ctx context.Context, req Request, reason string, cause error) (*Document, error) {
	if o.onFallback != nil {
		o.onFallback(reason, cause)
	}
	doc, err := o.fallback.Generate(ctx, req)
	if doc != nil {
		if doc.Provider == "" {
			doc.Provider = ProviderStatic
		}
		doc.FallbackReason = reason
	}
	return doc, err
}

func buildUserPrompt(req Request) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Document tier: %s.\n", coalesce(req.Tier, "standard"))
	fmt.Fprintf(sb, "Request: %s", strings.TrimSpace(req.Prompt))
	return sb.String()
}

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultOpenAIModel, "defaulted"
}

var _ Generator = (*OpenAIGenerator)(nil)
