package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

const defaultSendGridBaseURL = "https://api.sendgrid.com"

type SendGridOptions struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// SendGridSender delivers refund notices through the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewSendGridSender(opts SendGridOptions) (*SendGridSender, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("sendgrid: api key is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("sendgrid: from address is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultSendGridBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SendGridSender{
		apiKey:  opts.APIKey,
		from:    opts.From,
		baseURL: baseURL,
		client:  client,
		logger:  opts.Logger,
	}, nil
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

func (s *SendGridSender) SendRefundNotice(ctx context.Context, notice RefundNotice) error {
	tpl := resolveTemplate(notice.Locale)
	reason := notice.Reason
	if reason == "" {
		reason = "unknown"
	}
	mail := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: notice.Email}}}},
		From:             sendGridAddress{Email: s.from},
		Subject:          fmt.Sprintf(tpl.subject, notice.TaskID),
		Content: []sendGridContent{{
			Type:  "text/plain",
			Value: fmt.Sprintf(tpl.body, notice.TaskID, reason, notice.Credits),
		}},
	}
	body, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("sendgrid: marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendgrid: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w: %v", domain.ErrVendorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("sendgrid: %w: status %d", domain.ErrVendorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendgrid: send rejected: status %d: %s", resp.StatusCode, detail)
	}

	s.logger.Debug().
		Str("task_id", notice.TaskID).
		Str("locale", notice.Locale).
		Msg("refund notice sent")
	return nil
}

var _ Sender = (*SendGridSender)(nil)
