/**
 * @description
 * Client for the Dwolla payment-network API. It provisions personal customers,
 * registers Plaid-backed funding sources and submits transfers. Every create
 * call answers with a Location header naming the new resource, which is what
 * this client returns.
 *
 * @dependencies
 * - golang.org/x/oauth2, golang.org/x/oauth2/clientcredentials: Application
 *   access tokens, fetched and refreshed transparently by the HTTP transport.
 * - github.com/shopspring/decimal: Transfer amounts.
 * - go.uber.org/zap: Request logging.
 *
 * @notes
 * - Non-2xx responses are decoded into *APIError. Its DuplicateResourceHref
 *   exposes the existing resource link Dwolla returns for duplicates.
 */
package dwollaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	mediaType = "application/vnd.dwolla.v1.hal+json"

	CustomerTypePersonal = "personal"
	CurrencyUSD          = "USD"
)

// BaseURLForEnv maps a Dwolla environment name to its API host.
func BaseURLForEnv(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "production") {
		return "https://api.dwolla.com"
	}
	return "https://api-sandbox.dwolla.com"
}

// ResourceID returns the trailing path segment of a resource location, which
// is the resource's identifier.
func ResourceID(location string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(location), "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// Client is a client for interacting with the Dwolla API.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client authenticated with the OAuth2 client-credentials
// grant against {baseURL}/token.
func NewClient(baseURL, key, secret string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")

	credentials := clientcredentials.Config{
		ClientID:     key,
		ClientSecret: secret,
		TokenURL:     baseURL + "/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	httpClient := credentials.Client(tokenCtx)
	httpClient.Timeout = timeout

	return newClient(baseURL, httpClient, logger)
}

// NewClientWithHTTPClient uses httpClient as-is; authentication is the caller's concern.
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	return newClient(strings.TrimRight(baseURL, "/"), httpClient, logger)
}

func newClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "dwolla_client")),
	}
}

// APIError is the HAL error body returned by Dwolla.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Embedded   struct {
		Errors []EmbeddedError `json:"errors"`
	} `json:"_embedded"`
	Links struct {
		About struct {
			Href string `json:"href"`
		} `json:"about"`
	} `json:"_links"`
}

type EmbeddedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
	Links   struct {
		About struct {
			Href string `json:"href"`
		} `json:"about"`
	} `json:"_links"`
}

func (e *APIError) Error() string {
	if len(e.Embedded.Errors) > 0 {
		first := e.Embedded.Errors[0]
		return fmt.Sprintf("dwolla api error: status %d, %s: %s (%s %s)", e.StatusCode, e.Code, e.Message, first.Path, first.Message)
	}
	return fmt.Sprintf("dwolla api error: status %d, %s: %s", e.StatusCode, e.Code, e.Message)
}

// Detail returns the most specific message available.
func (e *APIError) Detail() string {
	if len(e.Embedded.Errors) > 0 && e.Embedded.Errors[0].Message != "" {
		return e.Embedded.Errors[0].Message
	}
	return e.Message
}

// DuplicateResourceHref returns the link to the already existing resource when
// Dwolla rejected a create as a duplicate. Duplicate funding sources are
// reported at the top level, duplicate customers as embedded errors.
func (e *APIError) DuplicateResourceHref() (string, bool) {
	if e.Code == "DuplicateResource" && e.Links.About.Href != "" {
		return e.Links.About.Href, true
	}
	for _, embedded := range e.Embedded.Errors {
		if embedded.Code == "Duplicate" && embedded.Links.About.Href != "" {
			return embedded.Links.About.Href, true
		}
	}
	return "", false
}

type CreateCustomerRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Type        string `json:"type"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postalCode"`
	DateOfBirth string `json:"dateOfBirth"`
	SSN         string `json:"ssn"`
}

type CreateFundingSourceRequest struct {
	PlaidToken string `json:"plaidToken"`
	Name       string `json:"name"`
}

type Link struct {
	Href string `json:"href"`
}

type Amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type CreateTransferRequest struct {
	Links struct {
		Source      Link `json:"source"`
		Destination Link `json:"destination"`
	} `json:"_links"`
	Amount Amount `json:"amount"`
}

// NewTransferRequest builds a USD transfer between two funding sources.
func NewTransferRequest(sourceURL, destinationURL string, amount decimal.Decimal) CreateTransferRequest {
	var req CreateTransferRequest
	req.Links.Source.Href = sourceURL
	req.Links.Destination.Href = destinationURL
	req.Amount = Amount{Currency: CurrencyUSD, Value: amount.StringFixed(2)}
	return req
}

type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Created   string `json:"created"`
}

// CreateCustomer creates a personal verified customer and returns its location.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (string, error) {
	return c.create(ctx, "create_customer", c.BaseURL+"/customers", req)
}

// CreateFundingSource attaches a Plaid processor-token backed bank account to a customer.
func (c *Client) CreateFundingSource(ctx context.Context, customerID string, req CreateFundingSourceRequest) (string, error) {
	return c.create(ctx, "create_funding_source", fmt.Sprintf("%s/customers/%s/funding-sources", c.BaseURL, customerID), req)
}

// CreateTransfer submits a transfer and returns its location.
func (c *Client) CreateTransfer(ctx context.Context, req CreateTransferRequest) (string, error) {
	return c.create(ctx, "create_transfer", c.BaseURL+"/transfers", req)
}

// GetCustomer retrieves a customer by id.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	resp, err := c.do(ctx, "get_customer", http.MethodGet, fmt.Sprintf("%s/customers/%s", c.BaseURL, customerID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var customer Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, fmt.Errorf("failed to decode customer: %w", err)
	}
	return &customer, nil
}

// DeactivateCustomer sets a customer's status to deactivated.
func (c *Client) DeactivateCustomer(ctx context.Context, customerID string) error {
	resp, err := c.do(ctx, "deactivate_customer", http.MethodPost, fmt.Sprintf("%s/customers/%s", c.BaseURL, customerID), map[string]string{"status": "deactivated"})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// create posts body and returns the Location header. An empty location is not
// an error here; callers decide what a missing location means.
func (c *Client) create(ctx context.Context, op, url string, body interface{}) (string, error) {
	resp, err := c.do(ctx, op, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	location := strings.TrimSpace(resp.Header.Get("Location"))
	c.logger.Info("resource created", zap.String("op", op), zap.String("location", location))
	return location, nil
}

// do sends the request and returns the response for 2xx statuses. The caller
// owns the response body.
func (c *Client) do(ctx context.Context, op, method, url string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dwolla request %s failed: %w", op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
		c.logger.Warn("non-2xx response (unparsable error body)", zap.String("op", op), zap.Int("status", resp.StatusCode))
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(respBody))
		return nil, apiErr
	}
	c.logger.Warn("non-2xx response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("code", apiErr.Code),
		zap.String("detail", apiErr.Detail()),
	)
	return nil, apiErr
}
