package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tablewatch/internal/config"
)

// TwilioSender posts messages to the Twilio REST API directly; the payload is
// a simple form, not worth an SDK dependency.
type TwilioSender struct {
	hc         *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
}

func NewTwilioSender(cfg config.SMSConfig) *TwilioSender {
	return &TwilioSender{
		hc:         &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.BaseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
	}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sms send to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sms send to %s: status %d: %s", to, resp.StatusCode, string(detail))
	}
	return nil
}
