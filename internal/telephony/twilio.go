package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DialoutRequest carries the two numbers for an outbound call.
type DialoutRequest struct {
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`
}

// DialoutResult reports the initiated call back to the API caller.
type DialoutResult struct {
	CallSID  string `json:"call_sid"`
	Status   string `json:"status"`
	ToNumber string `json:"to_number"`
}

// TwilioConfig configures the REST client for outbound calls.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
}

// TwilioClient places outbound calls through Twilio's REST API.
type TwilioClient struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type twilioCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// Dialout initiates an outbound call; twimlURL is fetched by Twilio for call
// control once the callee answers.
func (c *TwilioClient) Dialout(ctx context.Context, req DialoutRequest, twimlURL string) (DialoutResult, error) {
	if strings.TrimSpace(req.ToNumber) == "" || strings.TrimSpace(req.FromNumber) == "" {
		return DialoutResult{}, fmt.Errorf("to_number and from_number are required")
	}

	form := url.Values{}
	form.Set("To", req.ToNumber)
	form.Set("From", req.FromNumber)
	form.Set("Url", twimlURL)
	form.Set("Method", "POST")

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/2010-04-01/Accounts/" + url.PathEscape(c.cfg.AccountSID) + "/Calls.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return DialoutResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return DialoutResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return DialoutResult{}, fmt.Errorf("read response: %w", err)
	}

	var parsed twilioCallResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return DialoutResult{}, fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return DialoutResult{}, fmt.Errorf("dialout status %d: %s", resp.StatusCode, msg)
	}

	status := parsed.Status
	if status == "" {
		status = "call_initiated"
	}
	return DialoutResult{
		CallSID:  parsed.SID,
		Status:   status,
		ToNumber: req.ToNumber,
	}, nil
}
