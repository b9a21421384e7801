package epayco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"rifas-backend/internal/config"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/models"
)

// ErrSessionRejected is returned when the gateway answers a session create
// with success=false.
var ErrSessionRejected = errors.New("gateway rejected checkout session")

// Client talks to the ePayco Apify API: login with the merchant key pair,
// then bearer-authenticated calls with the short-lived session token.
type Client struct {
	httpClient *http.Client
	config     config.EPaycoConfig
	logger     *logger.Logger
}

func NewClient(cfg config.EPaycoConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		config:     cfg,
		logger:     log,
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges the public/private key pair for a bearer token. Tokens are
// short lived; the checkout flow logs in per session create.
func (c *Client) Login(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/login", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build login request: %w", err)
	}
	req.SetBasicAuth(c.config.PublicKey, c.config.PrivateKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("gateway login failed: %w", err)
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if parsed.Token == "" {
		return "", errors.New("gateway login returned no token")
	}
	return parsed.Token, nil
}

// SessionRequest carries the fields the gateway needs to open a checkout
// session. Extra1 and Extra4 are echoed back verbatim on the confirmation
// webhook, which is how the raffle id and the reference survive the round
// trip through the gateway.
type SessionRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	Invoice            string `json:"invoice"`
	Currency           string `json:"currency"`
	Amount             string `json:"amount"`
	Country            string `json:"country"`
	Test               bool   `json:"test"`
	IP                 string `json:"ip"`
	Response           string `json:"response"`
	Confirmation       string `json:"confirmation"`
	Extra1             string `json:"extra1"`
	Extra4             string `json:"extra4"`
	NameBilling        string `json:"nameBilling"`
	EmailBilling       string `json:"emailBilling"`
	NumberDocBilling   string `json:"numberDocBilling"`
	MobilePhoneBilling string `json:"mobilephoneBilling"`
}

type sessionResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	} `json:"data"`
	TextResponse string `json:"textResponse"`
}

// CreateSession opens a checkout session and returns the id the frontend
// embeds in the payment widget.
func (c *Client) CreateSession(ctx context.Context, token string, session SessionRequest) (*models.PaymentSession, []byte, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/payment/session/create", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway session create failed: %w", err)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, body, fmt.Errorf("failed to decode session response: %w", err)
	}
	if !parsed.Success {
		return nil, body, fmt.Errorf("%w: %s", ErrSessionRejected, parsed.TextResponse)
	}
	return &models.PaymentSession{
		SessionID: parsed.Data.SessionID,
		Token:     parsed.Data.Token,
	}, body, nil
}

type detailResponse struct {
	Success bool `json:"success"`
	Data    struct {
		RefPayco     json.Number `json:"x_ref_payco"`
		Reference    string      `json:"x_extra4"`
		Response     string      `json:"x_response"`
		ResponseCode json.Number `json:"x_cod_response"`
	} `json:"data"`
}

// TransactionDetail fetches the stored state of a payment by the gateway's
// own id. Used when a notification arrives carrying only ref_payco.
func (c *Client) TransactionDetail(ctx context.Context, refPayco string) (*models.TransactionDetail, error) {
	token, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/transaction/response?referencePayco=%s", c.config.BaseURL, refPayco)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build detail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway detail fetch failed: %w", err)
	}

	var parsed detailResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode detail response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("gateway has no transaction %s", refPayco)
	}
	return &models.TransactionDetail{
		RefPayco:     parsed.Data.RefPayco.String(),
		Reference:    parsed.Data.Reference,
		Response:     parsed.Data.Response,
		ResponseCode: parsed.Data.ResponseCode.String(),
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}
	return body, nil
}
