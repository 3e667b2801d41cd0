package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voicebridge/internal/config"
)

// RestClient initiates and redirects call legs through the carrier's REST
// API. Results are observed only through subsequent webhooks; callers treat
// these as fire-and-forget requests with an immediate sid acknowledgement.
type RestClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

const defaultAPIBase = "https://api.twilio.com"

func NewRestClient(cfg config.TwilioConfig) *RestClient {
	return &RestClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type callResource struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PlaceCall dials `to` from `from` and points the answered leg at
// webhookURL for its call-control document. Returns the carrier call sid.
func (c *RestClient) PlaceCall(ctx context.Context, to, from, webhookURL string) (string, error) {
	if to == "" || from == "" || webhookURL == "" {
		return "", errors.New("telephony: to, from and webhook url are required")
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Url", webhookURL)
	form.Set("Method", "POST")

	res, err := c.post(ctx, fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID), form)
	if err != nil {
		return "", err
	}
	if res.Sid == "" {
		return "", errors.New("telephony: carrier returned no call sid")
	}
	return res.Sid, nil
}

// RedirectCall re-points a live leg at a new call-control document. Used to
// move the source leg into the hold conference when a transfer starts.
func (c *RestClient) RedirectCall(ctx context.Context, callSid, webhookURL string) error {
	if callSid == "" || webhookURL == "" {
		return errors.New("telephony: call sid and webhook url are required")
	}
	form := url.Values{}
	form.Set("Url", webhookURL)
	form.Set("Method", "POST")

	_, err := c.post(ctx, fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", c.accountSID, callSid), form)
	return err
}

func (c *RestClient) post(ctx context.Context, path string, form url.Values) (callResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return callResource{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return callResource{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return callResource{}, err
	}

	var res callResource
	// Error payloads are JSON too; decode before checking the status code so
	// the carrier's message makes it into the error.
	_ = json.Unmarshal(body, &res)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if res.Message != "" {
			return callResource{}, fmt.Errorf("telephony: carrier error %d (code %d): %s", resp.StatusCode, res.Code, res.Message)
		}
		return callResource{}, fmt.Errorf("telephony: carrier error %d", resp.StatusCode)
	}
	return res, nil
}
