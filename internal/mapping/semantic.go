package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/crestlane/tapeload/internal/schema"
)

// Proposer proposes a column mapping for tape headers that could not be
// resolved by name. Implementations must treat the tape columns as the
// only legal source values; callers still validate the result.
type Proposer interface {
	ProposeMapping(ctx context.Context, columns []string, sch *schema.Schema) (ColumnMapping, error)
}

// Semantic mapping defaults, overridable through configuration.
const (
	DefaultModel   = "claude-3-5-haiku-latest"
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 2
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

// AnthropicConfig configures the live semantic mapper.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Retries int
}

// AnthropicProposer asks the Anthropic Messages API to map tape columns
// onto the target schema. One call covers the whole tape; transient API
// failures are retried with exponential backoff.
type AnthropicProposer struct {
	client  anthropic.Client
	model   anthropic.Model
	tmpl    *template.Template
	timeout time.Duration
	retries uint64
	log     *slog.Logger
}

// NewAnthropicProposer creates a semantic mapper backed by the Anthropic
// API.
func NewAnthropicProposer(cfg AnthropicConfig, log *slog.Logger) (*AnthropicProposer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or disable semantic mapping", errAPIKeyRequired)
	}

	tmpl, err := template.New("proposal").Parse(proposalPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse proposal template: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = DefaultRetries
	}
	if log == nil {
		log = slog.Default()
	}

	return &AnthropicProposer{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   anthropic.Model(cfg.Model),
		tmpl:    tmpl,
		timeout: cfg.Timeout,
		retries: uint64(cfg.Retries),
		log:     log,
	}, nil
}

// ProposeMapping renders the mapping prompt, calls the model, and parses
// the JSON response. The call blocks up to the configured timeout.
func (p *AnthropicProposer) ProposeMapping(ctx context.Context, columns []string, sch *schema.Schema) (ColumnMapping, error) {
	prompt, err := p.renderPrompt(columns, sch)
	if err != nil {
		return nil, fmt.Errorf("render mapping prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var text string
	op := func() error {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			p.log.Warn("semantic mapping call failed, retrying", "error", err)
			return err
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
		}
		content := message.Content[0]
		if content.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
		}
		text = content.Text
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("semantic mapping call: %w", err)
	}

	m, err := parseProposal(text)
	if err != nil {
		return nil, err
	}
	p.log.Debug("semantic mapping proposed", "fields", len(m))
	return m, nil
}

func (p *AnthropicProposer) renderPrompt(columns []string, sch *schema.Schema) (string, error) {
	type fieldDoc struct {
		Name        string
		Type        string
		Description string
	}
	data := struct {
		Columns []string
		Fields  []fieldDoc
	}{Columns: columns}

	for _, f := range sch.Mappable() {
		data.Fields = append(data.Fields, fieldDoc{
			Name:        f.Name,
			Type:        f.Type.String(),
			Description: f.Description,
		})
	}

	var buf strings.Builder
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseProposal extracts the JSON object from a model response, which
// may be wrapped in code fences or prose.
func parseProposal(raw string) (ColumnMapping, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("mapping response contains no JSON object")
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(s[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("parse mapping response: %w", err)
	}

	m := make(ColumnMapping, len(fields))
	for target, src := range fields {
		target = strings.TrimSpace(target)
		src = strings.TrimSpace(src)
		if target == "" || src == "" {
			continue
		}
		m[target] = src
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("mapping response mapped no fields")
	}
	return m, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}

const proposalPromptTemplate = `You are mapping the columns of a seller loan tape spreadsheet onto a fixed loan schema.

Tape columns:
{{range .Columns}}- {{.}}
{{end}}
Target fields:
{{range .Fields}}- {{.Name}} ({{.Type}}): {{.Description}}
{{end}}
Respond with a single JSON object mapping target field names to tape column names, for example {"loan_number": "Loan ID"}. Use only column names from the tape columns list, spelled exactly as they appear. Omit target fields with no matching column. Do not include any text outside the JSON object.`
