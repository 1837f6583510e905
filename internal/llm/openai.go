// Package llm implements the agents' planner on the OpenAI chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/time/rate"

	"github.com/applybot-dev/applybot/internal/agent"
	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/errdefs"
)

const systemPrompt = `You operate a web browser to submit job applications.
You receive an instruction and the current page: its URL, title, visible text and a list of
interactive elements, each with a ref like [e12]. Reply with a single JSON object and nothing else:
{"action":"click|type|select|upload|navigate|submit","ref":"<element ref>","value":"<text or option>","url":"<absolute url>","reason":"<short>"}
or, when the instruction's goal is reached or impossible, {"done":"<signal>","reason":"<short>"}.
Never solve CAPTCHAs and never type passwords.`

const (
	maxPageText = 6000
	maxElements = 150
)

// Options configures the OpenAI planner.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Vision            bool
	RequestTimeout    time.Duration
	MaxRetries        int
	RequestsPerMinute int
	Verbose           bool
}

// Client is a Planner backed by chat completions.
type Client struct {
	opts    Options
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

var _ agent.Planner = (*Client)(nil)

// New creates a planner client. Requests are rate limited and retried on
// 429 and 5xx responses.
func New(opts Options) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = opts.MaxRetries
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 10 * time.Second
	hc.HTTPClient.Timeout = opts.RequestTimeout
	hc.Logger = nil
	if opts.Verbose {
		hc.Logger = log.Default()
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	return &Client{
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Act asks the model for the next decision.
func (c *Client) Act(ctx context.Context, instruction string, page *browser.PageState) (agent.Decision, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return agent.Decision{}, fmt.Errorf("planner rate limit: %w", err)
	}

	user := instruction + "\n\n" + DescribePage(page)
	var content any = user
	if c.opts.Vision && page != nil && len(page.Screenshot) > 0 {
		content = []contentPart{
			{Type: "text", Text: user},
			{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.Screenshot)}},
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return agent.Decision{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/chat/completions"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return agent.Decision{}, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return agent.Decision{}, fmt.Errorf("chat completion: %w", ctxErr)
		}
		return agent.Decision{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return agent.Decision{}, fmt.Errorf("failed to read chat response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return agent.Decision{}, fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return agent.Decision{}, errdefs.Configuration("OpenAI rejected the API key")
	case resp.StatusCode >= 300:
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return agent.Decision{}, fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, msg)
	case len(parsed.Choices) == 0:
		return agent.Decision{}, fmt.Errorf("chat completion returned no choices")
	}
	return agent.ParseDecision([]byte(parsed.Choices[0].Message.Content))
}

// DescribePage renders a page observation as prompt text.
func DescribePage(page *browser.PageState) string {
	if page == nil {
		return "Page: (none)"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n\nElements:\n", page.URL, page.Title)
	for i, el := range page.Elements {
		if i == maxElements {
			fmt.Fprintf(&b, "... %d more\n", len(page.Elements)-maxElements)
			break
		}
		fmt.Fprintf(&b, "[%s] %s", el.Ref, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&b, "/%s", el.Type)
		}
		fmt.Fprintf(&b, " %q", truncate.StringWithTail(el.Caption(), 80, "..."))
		if el.Required {
			b.WriteString(" required")
		}
		if el.Value != "" && el.Type != "password" {
			fmt.Fprintf(&b, " value=%q", truncate.StringWithTail(el.Value, 40, "..."))
		}
		if len(el.Options) > 0 {
			fmt.Fprintf(&b, " options=%q", el.Options)
		}
		if el.Invalid {
			fmt.Fprintf(&b, " error=%q", el.Message)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nText:\n%s\n", truncate.StringWithTail(page.Text, maxPageText, "..."))
	return b.String()
}
