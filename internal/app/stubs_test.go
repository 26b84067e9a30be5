package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Djonahuti/u-bank/internal/domain"
	"github.com/Djonahuti/u-bank/internal/store"
	"github.com/Djonahuti/u-bank/pkg/dwollaclient"
	"github.com/Djonahuti/u-bank/pkg/plaidclient"
)

// memoryRepo is an in-memory store.Repository that mirrors the Postgres
// constraints the services rely on.
type memoryRepo struct {
	store.Repository

	mu              sync.Mutex
	customers       map[uuid.UUID]*domain.Customer
	banks           []domain.Bank
	transactions    []domain.Transaction
	reconciliations []*domain.Reconciliation

	// racingDwollaID, when set, is written by a "concurrent" request just
	// before SetDwollaCustomerID runs.
	racingDwollaID    string
	setIdentifierErr  error
	createBankErr     error
	createTxErr       error
	createReconErr    error
	setIdentifierHits int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{customers: make(map[uuid.UUID]*domain.Customer)}
}

func (r *memoryRepo) addCustomer(c *domain.Customer) *domain.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stored := *c
	r.customers[c.ID] = &stored
	return c
}

func (r *memoryRepo) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.customers {
		if existing.UserID == customer.UserID {
			return store.ErrCustomerExists
		}
	}
	customer.ID = uuid.New()
	customer.CreatedAt = time.Now()
	stored := *customer
	r.customers[customer.ID] = &stored
	return nil
}

func (r *memoryRepo) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[customerID]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memoryRepo) FindCustomerByUserID(ctx context.Context, userID string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UserID == userID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, store.ErrCustomerNotFound
}

func (r *memoryRepo) SetDwollaCustomerID(ctx context.Context, customerID uuid.UUID, dwollaCustomerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setIdentifierHits++
	if r.setIdentifierErr != nil {
		return false, r.setIdentifierErr
	}
	c, ok := r.customers[customerID]
	if !ok {
		return false, store.ErrCustomerNotFound
	}
	if r.racingDwollaID != "" && c.DwollaCustomerID == nil {
		racing := r.racingDwollaID
		c.DwollaCustomerID = &racing
	}
	if c.DwollaCustomerID != nil {
		return false, nil
	}
	for _, other := range r.customers {
		if other.DwollaCustomerID != nil && *other.DwollaCustomerID == dwollaCustomerID {
			return false, store.ErrDwollaCustomerIDTaken
		}
	}
	id := dwollaCustomerID
	c.DwollaCustomerID = &id
	return true, nil
}

func (r *memoryRepo) CreateBank(ctx context.Context, bank *domain.Bank) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createBankErr != nil {
		return r.createBankErr
	}
	for _, existing := range r.banks {
		if existing.FundingSourceURL == bank.FundingSourceURL {
			return store.ErrDuplicateFundingSource
		}
	}
	bank.ID = uuid.New()
	bank.CreatedAt = time.Now()
	r.banks = append(r.banks, *bank)
	return nil
}

func (r *memoryRepo) FindBankByID(ctx context.Context, customerID, bankID uuid.UUID) (*domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.banks {
		if b.ID == bankID && b.CustomerID == customerID {
			copied := b
			return &copied, nil
		}
	}
	return nil, store.ErrBankNotFound
}

func (r *memoryRepo) FindBankByFundingSourceURL(ctx context.Context, customerID uuid.UUID, fundingSourceURL string) (*domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.banks {
		if b.FundingSourceURL == fundingSourceURL && b.CustomerID == customerID {
			copied := b
			return &copied, nil
		}
	}
	return nil, store.ErrBankNotFound
}

func (r *memoryRepo) ListBanksByCustomerID(ctx context.Context, customerID uuid.UUID) ([]domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Bank
	for _, b := range r.banks {
		if b.CustomerID == customerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createTxErr != nil {
		return r.createTxErr
	}
	for _, existing := range r.transactions {
		if existing.DwollaTransactionID == tx.DwollaTransactionID {
			return store.ErrDuplicateTransaction
		}
	}
	tx.ID = uuid.New()
	tx.CreatedAt = time.Now()
	r.transactions = append(r.transactions, *tx)
	return nil
}

func (r *memoryRepo) ListTransactionsByCustomerID(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for i := len(r.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.transactions[i].CustomerID == customerID {
			out = append(out, r.transactions[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateReconciliation(ctx context.Context, item *domain.Reconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createReconErr != nil {
		return r.createReconErr
	}
	item.ID = uuid.New()
	if item.Status == "" {
		item.Status = domain.ReconciliationPending
	}
	item.CreatedAt = time.Now()
	item.NextAttemptAt = item.CreatedAt
	r.reconciliations = append(r.reconciliations, item)
	return nil
}

func (r *memoryRepo) ClaimDueReconciliations(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Reconciliation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []domain.Reconciliation
	for _, item := range r.reconciliations {
		if len(out) == limit {
			break
		}
		if item.Status != domain.ReconciliationPending || item.NextAttemptAt.After(now) {
			continue
		}
		item.Attempts++
		out = append(out, *item)
	}
	return out, nil
}

func (r *memoryRepo) findReconciliation(id uuid.UUID) (*domain.Reconciliation, error) {
	for _, item := range r.reconciliations {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, store.ErrReconciliationNotFound
}

func (r *memoryRepo) MarkReconciliationResolved(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.findReconciliation(id)
	if err != nil {
		return err
	}
	item.Status = domain.ReconciliationResolved
	return nil
}

func (r *memoryRepo) MarkReconciliationFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.findReconciliation(id)
	if err != nil {
		return err
	}
	item.NextAttemptAt = time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
	item.LastError = &reason
	return nil
}

func (r *memoryRepo) MarkReconciliationManual(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.findReconciliation(id)
	if err != nil {
		return err
	}
	item.Status = domain.ReconciliationManual
	item.LastError = &reason
	return nil
}

func (r *memoryRepo) customer(id uuid.UUID) domain.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.customers[id]
}

// stubNetwork records every payment-network call.
type stubNetwork struct {
	mu sync.Mutex

	customerLocation string
	customerErr      error
	fundingLocation  string
	fundingErr       error
	transferLocation string
	transferErr      error

	customerCalls int
	fundingCalls  int
	transferCalls int
	lastCustomer  dwollaclient.CreateCustomerRequest
	lastFunding   dwollaclient.CreateFundingSourceRequest
	lastTransfer  dwollaclient.CreateTransferRequest
	fundingFor    string
}

func (n *stubNetwork) CreateCustomer(ctx context.Context, req dwollaclient.CreateCustomerRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.customerCalls++
	n.lastCustomer = req
	return n.customerLocation, n.customerErr
}

func (n *stubNetwork) CreateFundingSource(ctx context.Context, customerID string, req dwollaclient.CreateFundingSourceRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fundingCalls++
	n.fundingFor = customerID
	n.lastFunding = req
	return n.fundingLocation, n.fundingErr
}

func (n *stubNetwork) CreateTransfer(ctx context.Context, req dwollaclient.CreateTransferRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transferCalls++
	n.lastTransfer = req
	return n.transferLocation, n.transferErr
}

func (n *stubNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.customerCalls + n.fundingCalls + n.transferCalls
}

// stubAggregator serves a fixed item: one public token, one account list.
type stubAggregator struct {
	publicToken    string
	accessToken    string
	accounts       []plaidclient.Account
	processorToken string
	linkToken      string

	exchangeErr  error
	accountsErr  error
	processorErr error
	linkErr      error

	lastLinkRequest plaidclient.LinkTokenCreateRequest
	processorCalls  int
}

func (a *stubAggregator) CreateLinkToken(ctx context.Context, req plaidclient.LinkTokenCreateRequest) (*plaidclient.LinkTokenCreateResponse, error) {
	a.lastLinkRequest = req
	if a.linkErr != nil {
		return nil, a.linkErr
	}
	return &plaidclient.LinkTokenCreateResponse{LinkToken: a.linkToken}, nil
}

func (a *stubAggregator) ExchangePublicToken(ctx context.Context, publicToken string) (*plaidclient.PublicTokenExchangeResponse, error) {
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	if publicToken != a.publicToken {
		return nil, &plaidclient.APIError{StatusCode: 400, ErrorType: "INVALID_INPUT", ErrorCode: "INVALID_PUBLIC_TOKEN"}
	}
	return &plaidclient.PublicTokenExchangeResponse{AccessToken: a.accessToken, ItemID: "item_1"}, nil
}

func (a *stubAggregator) GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsGetResponse, error) {
	if a.accountsErr != nil {
		return nil, a.accountsErr
	}
	return &plaidclient.AccountsGetResponse{Accounts: a.accounts}, nil
}

func (a *stubAggregator) CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (*plaidclient.ProcessorTokenCreateResponse, error) {
	a.processorCalls++
	if a.processorErr != nil {
		return nil, a.processorErr
	}
	return &plaidclient.ProcessorTokenCreateResponse{ProcessorToken: a.processorToken}, nil
}

type stubSealer struct{}

func (stubSealer) Seal(plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func (stubSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, "sealed:") {
		return "", errors.New("not sealed")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	payload    interface{}
}

type stubPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *stubPublisher) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, payload: payload})
	return p.err
}

func (p *stubPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

const testExchange = "ubank.events"

func validCustomer() *domain.Customer {
	return &domain.Customer{
		UserID:      "user-1",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Address:     "1 Main St",
		City:        "Springfield",
		State:       "ca",
		ZipCode:     "94105",
		DateOfBirth: "1990-01-01",
		NIN:         "123456789",
		Email:       "ada@example.com",
	}
}

func strPtr(s string) *string {
	return &s
}

func nullDecimal(value string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(value))
}

// testHarness wires the services around shared stubs.
type testHarness struct {
	repo        *memoryRepo
	network     *stubNetwork
	aggregator  *stubAggregator
	publisher   *stubPublisher
	reconciler  *Reconciler
	provisioner *Provisioner
	linker      *BankLinker
	transfers   *TransferService
}

const testDestination = "https://api-sandbox.dwolla.com/funding-sources/master"

func newTestHarness() *testHarness {
	h := &testHarness{
		repo: newMemoryRepo(),
		network: &stubNetwork{
			customerLocation: "https://api-sandbox.dwolla.com/customers/cust-1",
			fundingLocation:  "https://api-sandbox.dwolla.com/funding-sources/fs-1",
			transferLocation: "https://api/transfers/abc123",
		},
		aggregator: &stubAggregator{
			publicToken:    "tok_good",
			accessToken:    "access-sandbox-1",
			processorToken: "processor-sandbox-1",
			linkToken:      "link-sandbox-1",
			accounts: []plaidclient.Account{
				{AccountID: "acc_0", Name: "Savings"},
				{
					AccountID: "acc_1",
					Name:      "Plaid Checking",
					Balances: plaidclient.AccountBalances{
						Available:       nullDecimal("100.00"),
						Current:         nullDecimal("110.00"),
						ISOCurrencyCode: strPtr("USD"),
					},
				},
			},
		},
		publisher: &stubPublisher{},
	}
	h.reconciler = NewReconciler(h.repo, stubSealer{}, h.publisher, testExchange, nil)
	h.provisioner = NewProvisioner(h.repo, h.network, h.reconciler, time.Second, nil)
	h.linker = NewBankLinker(h.repo, h.aggregator, h.network, h.provisioner, h.reconciler, h.publisher, testExchange, time.Second, nil)
	h.transfers = NewTransferService(h.repo, h.network, h.reconciler, h.publisher, testExchange, testDestination, time.Second, nil)
	return h
}
