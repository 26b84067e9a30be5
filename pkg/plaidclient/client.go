/**
 * @description
 * Adapter over the official Plaid Go SDK for the calls the bank linking flow
 * needs: link token creation, public token exchange, account lookup and
 * processor token minting for the payment network.
 *
 * @dependencies
 * - github.com/plaid/plaid-go: Plaid API client.
 * - github.com/shopspring/decimal: Balance amounts.
 * - go.uber.org/zap: Request logging.
 *
 * @notes
 * - SDK models are converted into the local types below so callers never
 *   import the SDK.
 * - Plaid error bodies are decoded into *APIError so callers can inspect the
 *   Plaid error code with errors.As.
 */
package plaidclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const ProcessorDwolla = "dwolla"

var environments = map[string]string{
	"sandbox":     string(plaid.Sandbox),
	"development": "https://development.plaid.com",
	"production":  string(plaid.Production),
}

// BaseURLForEnv maps a Plaid environment name to its API host. Unknown names
// fall back to sandbox.
func BaseURLForEnv(env string) string {
	if baseURL, ok := environments[strings.ToLower(strings.TrimSpace(env))]; ok {
		return baseURL
	}
	return environments["sandbox"]
}

// Client is a client for interacting with the Plaid API.
type Client struct {
	api    *plaid.APIClient
	logger *zap.Logger
}

// NewClient creates a new Plaid API client pointed at baseURL.
func NewClient(baseURL, clientID, secret string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	configuration.AddDefaultHeader("PLAID-SECRET", secret)
	configuration.UseEnvironment(plaid.Environment(strings.TrimRight(baseURL, "/")))
	configuration.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:    plaid.NewAPIClient(configuration),
		logger: logger.With(zap.String("component", "plaid_client")),
	}
}

// APIError is the error body returned by Plaid.
type APIError struct {
	StatusCode     int     `json:"-"`
	ErrorType      string  `json:"error_type"`
	ErrorCode      string  `json:"error_code"`
	ErrorMessage   string  `json:"error_message"`
	DisplayMessage *string `json:"display_message"`
	RequestID      string  `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid api error: status %d, %s/%s: %s", e.StatusCode, e.ErrorType, e.ErrorCode, e.ErrorMessage)
}

type LinkTokenUser struct {
	ClientUserID string
}

type LinkTokenCreateRequest struct {
	ClientName   string
	User         LinkTokenUser
	Products     []string
	CountryCodes []string
	Language     string
}

type LinkTokenCreateResponse struct {
	LinkToken  string
	Expiration time.Time
	RequestID  string
}

type PublicTokenExchangeResponse struct {
	AccessToken string
	ItemID      string
	RequestID   string
}

type AccountBalances struct {
	Available       decimal.NullDecimal
	Current         decimal.NullDecimal
	ISOCurrencyCode *string
}

type Account struct {
	AccountID    string
	Name         string
	OfficialName *string
	Mask         *string
	Type         string
	Subtype      *string
	Balances     AccountBalances
}

type AccountsGetResponse struct {
	Accounts  []Account
	RequestID string
}

// FindAccount returns the account with the given id, if present.
func (r *AccountsGetResponse) FindAccount(accountID string) (*Account, bool) {
	for i := range r.Accounts {
		if r.Accounts[i].AccountID == accountID {
			return &r.Accounts[i], true
		}
	}
	return nil, false
}

type ProcessorTokenCreateResponse struct {
	ProcessorToken string
	RequestID      string
}

// CreateLinkToken creates a short-lived token used to initialize Plaid Link.
func (c *Client) CreateLinkToken(ctx context.Context, req LinkTokenCreateRequest) (*LinkTokenCreateResponse, error) {
	countryCodes := make([]plaid.CountryCode, 0, len(req.CountryCodes))
	for _, code := range req.CountryCodes {
		countryCodes = append(countryCodes, plaid.CountryCode(code))
	}
	products := make([]plaid.Products, 0, len(req.Products))
	for _, product := range req.Products {
		products = append(products, plaid.Products(product))
	}

	user := plaid.LinkTokenCreateRequestUser{ClientUserId: req.User.ClientUserID}
	request := plaid.NewLinkTokenCreateRequest(req.ClientName, req.Language, countryCodes, user)
	request.SetProducts(products)

	resp, httpResp, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return nil, c.wrapError("link_token_create", httpResp, err)
	}
	return &LinkTokenCreateResponse{
		LinkToken:  resp.GetLinkToken(),
		Expiration: resp.GetExpiration(),
		RequestID:  resp.GetRequestId(),
	}, nil
}

// ExchangePublicToken trades a Link public token for a durable access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*PublicTokenExchangeResponse, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, httpResp, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return nil, c.wrapError("public_token_exchange", httpResp, err)
	}
	return &PublicTokenExchangeResponse{
		AccessToken: resp.GetAccessToken(),
		ItemID:      resp.GetItemId(),
		RequestID:   resp.GetRequestId(),
	}, nil
}

// GetAccounts lists the accounts of the item behind accessToken.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsGetResponse, error) {
	request := plaid.NewAccountsGetRequest(accessToken)
	resp, httpResp, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
	if err != nil {
		return nil, c.wrapError("accounts_get", httpResp, err)
	}

	out := &AccountsGetResponse{RequestID: resp.GetRequestId()}
	for _, account := range resp.GetAccounts() {
		out.Accounts = append(out.Accounts, toAccount(account))
	}
	return out, nil
}

// CreateProcessorToken mints a token that lets the given processor access one account.
func (c *Client) CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (*ProcessorTokenCreateResponse, error) {
	request := plaid.NewProcessorTokenCreateRequest(accessToken, accountID, processor)
	resp, httpResp, err := c.api.PlaidApi.ProcessorTokenCreate(ctx).ProcessorTokenCreateRequest(*request).Execute()
	if err != nil {
		return nil, c.wrapError("processor_token_create", httpResp, err)
	}
	return &ProcessorTokenCreateResponse{
		ProcessorToken: resp.GetProcessorToken(),
		RequestID:      resp.GetRequestId(),
	}, nil
}

func toAccount(account plaid.AccountBase) Account {
	out := Account{
		AccountID: account.GetAccountId(),
		Name:      account.GetName(),
		Type:      string(account.GetType()),
	}
	if officialName, ok := account.GetOfficialNameOk(); ok && officialName != nil {
		out.OfficialName = officialName
	}
	if mask, ok := account.GetMaskOk(); ok && mask != nil {
		out.Mask = mask
	}
	if subtype, ok := account.GetSubtypeOk(); ok && subtype != nil {
		value := string(*subtype)
		out.Subtype = &value
	}

	balances := account.GetBalances()
	if available, ok := balances.GetAvailableOk(); ok && available != nil {
		out.Balances.Available = decimal.NewNullDecimal(decimal.NewFromFloat(*available))
	}
	if current, ok := balances.GetCurrentOk(); ok && current != nil {
		out.Balances.Current = decimal.NewNullDecimal(decimal.NewFromFloat(*current))
	}
	if currency, ok := balances.GetIsoCurrencyCodeOk(); ok && currency != nil {
		out.Balances.ISOCurrencyCode = currency
	}
	return out
}

// wrapError turns an SDK failure into *APIError when Plaid sent an error body.
// Transport failures are wrapped as is so context deadlines stay detectable.
func (c *Client) wrapError(op string, httpResp *http.Response, err error) error {
	status := 0
	if httpResp != nil {
		status = httpResp.StatusCode
	}

	body, ok := openAPIErrorBody(err)
	if !ok || status == 0 {
		return fmt.Errorf("plaid request %s failed: %w", op, err)
	}

	apiErr := &APIError{StatusCode: status}
	if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.ErrorCode == "" {
		c.logger.Warn("non-2xx response (unparsable error body)", zap.String("op", op), zap.Int("status", status))
		return fmt.Errorf("plaid api error: status %d", status)
	}
	c.logger.Warn("non-2xx response",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error_code", apiErr.ErrorCode),
		zap.String("request_id", apiErr.RequestID),
	)
	return apiErr
}

func openAPIErrorBody(err error) ([]byte, bool) {
	var ptr *plaid.GenericOpenAPIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Body(), true
	}
	var val plaid.GenericOpenAPIError
	if errors.As(err, &val) {
		return val.Body(), true
	}
	return nil, false
}
