package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// MSG91Config configures the MSG91 provider
type MSG91Config struct {
	URL        string
	AuthKey    string
	Sender     string
	Route      string
	Timeout    time.Duration
	MaxRetries int
}

// MSG91Provider sends text messages through the MSG91 JSON API
type MSG91Provider struct {
	cfg  MSG91Config
	http *retryablehttp.Client
}

// NewMSG91Provider creates a new MSG91 provider
func NewMSG91Provider(cfg MSG91Config) *MSG91Provider {
	if cfg.Route == "" {
		cfg.Route = "4"
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &MSG91Provider{cfg: cfg, http: client}
}

type msg91Message struct {
	Message string   `json:"message"`
	To      []string `json:"to"`
}

type msg91Request struct {
	Sender  string         `json:"sender"`
	Route   string         `json:"route"`
	Country string         `json:"country"`
	SMS     []msg91Message `json:"sms"`
}

type msg91Response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Send reports true only when MSG91 accepted the message
func (p *MSG91Provider) Send(ctx context.Context, phone, countryCode, body string) bool {
	phone = normalisePhone(phone, countryCode)
	if phone == "" || strings.TrimSpace(body) == "" {
		return false
	}

	payload, err := json.Marshal(msg91Request{
		Sender:  p.cfg.Sender,
		Route:   p.cfg.Route,
		Country: strings.TrimPrefix(countryCode, "+"),
		SMS:     []msg91Message{{Message: body, To: []string{phone}}},
	})
	if err != nil {
		return false
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to create SMS request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", p.cfg.AuthKey)

	resp, err := p.http.Do(req)
	if err != nil {
		slog.Warn("SMS provider request failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("SMS provider rejected message", "status_code", resp.StatusCode)
		return false
	}

	var out msg91Response
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("Unreadable SMS provider response", "error", err)
		return false
	}
	return strings.EqualFold(out.Type, "success")
}

// normalisePhone strips formatting and a leading country code
func normalisePhone(phone, countryCode string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	cc := strings.TrimPrefix(countryCode, "+")
	if cc != "" && len(digits) > 10 && strings.HasPrefix(digits, cc) {
		digits = digits[len(cc):]
	}
	return digits
}
