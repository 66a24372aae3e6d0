// Package odoo talks to an Odoo server over its JSON-RPC endpoint. It
// resolves customers and products with the same match cascade used during
// reconciliation, and turns an ERP payload into a sale.order with any
// unresolvable products reported back for manual entry.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/kijani-supplies/order-desk/internal/erp"
	"github.com/kijani-supplies/order-desk/internal/match"
	"github.com/kijani-supplies/order-desk/internal/resilience"
)

// ErrCustomerNotFound is returned when no partner matches the identifier.
var ErrCustomerNotFound = eris.New("odoo: customer not found")

// ErrProductNotFound is returned when no sellable product matches the name.
var ErrProductNotFound = eris.New("odoo: product not found")

// Client defines the Odoo operations used by order submission.
type Client interface {
	Authenticate(ctx context.Context) error
	SearchCustomer(ctx context.Context, name, phone string) (*CustomerMatch, error)
	SearchProduct(ctx context.Context, name string) (*ProductMatch, error)
	CreateSaleOrder(ctx context.Context, partnerID int, lines []SaleLine, notes string) (*OrderResult, error)
	SubmitOrder(ctx context.Context, payload erp.Payload) (*OrderResult, error)
}

// CustomerMatch is a resolved res.partner record.
type CustomerMatch struct {
	ID         int
	Name       string
	Phone      string
	Email      string
	Confidence float64
}

// ProductMatch is a resolved product.product record.
type ProductMatch struct {
	ID          int
	Name        string
	DefaultCode string
	ListPrice   float64
	Confidence  float64
}

// SaleLine is one order line passed to sale.order create.
type SaleLine struct {
	ProductID int
	Quantity  float64
	PriceUnit float64
}

// OrderResult reports a created sale order. UnmatchedProducts lists payload
// lines that could not be resolved to a catalog product and were left off
// the order.
type OrderResult struct {
	OrderID           int
	OrderName         string
	UnmatchedProducts []string
}

// Config holds connection settings for an Odoo instance.
type Config struct {
	URL      string
	Database string
	Username string
	Password string

	// SimilarityThreshold tunes the loosest match tier for customer and
	// product lookup. Zero uses the matcher default.
	SimilarityThreshold float64

	// RequestsPerSecond caps outbound call rate. Zero means no limit.
	RequestsPerSecond float64
}

// Option configures the rpcClient.
type Option func(*rpcClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *rpcClient) {
		c.http = hc
	}
}

// WithRetryPolicy overrides the retry policy for RPC calls.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *rpcClient) {
		c.retry = p
	}
}

// rpcClient implements Client against the /jsonrpc endpoint.
type rpcClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   resilience.Policy
	matcher *match.Matcher

	mu  sync.Mutex
	uid int
}

// NewClient creates an Odoo client. Authentication is lazy; the first RPC
// that needs a session logs in and caches the uid.
func NewClient(cfg Config, opts ...Option) Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &rpcClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewBreaker("odoo", resilience.BreakerConfig{}),
		retry:   resilience.Policy{},
		matcher: match.New(cfg.SimilarityThreshold),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) detail() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// optText unmarshals Odoo text fields, which arrive as the JSON literal
// false when unset.
type optText string

func (t *optText) UnmarshalJSON(b []byte) error {
	if string(b) == "false" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = optText(s)
	return nil
}

type partnerRecord struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Phone optText `json:"phone"`
	Email optText `json:"email"`
}

type productRecord struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	DefaultCode optText `json:"default_code"`
	ListPrice   float64 `json:"list_price"`
}

// call performs one JSON-RPC request with rate limiting, retry on transient
// failures, and circuit breaking.
func (c *rpcClient) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "odoo: rate limit wait")
	}
	return resilience.RetryVal(ctx, "odoo", c.retry, func(ctx context.Context) (json.RawMessage, error) {
		return resilience.GuardVal(ctx, c.breaker, func(ctx context.Context) (json.RawMessage, error) {
			return c.doCall(ctx, service, method, args)
		})
	})
}

func (c *rpcClient) doCall(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "odoo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.URL, "/")+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "odoo: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "odoo: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := eris.Errorf("odoo: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, eris.Wrap(err, "odoo: decode response")
	}
	if rpc.Error != nil {
		return nil, eris.Errorf("odoo: rpc error %d: %s", rpc.Error.Code, rpc.Error.detail())
	}
	return rpc.Result, nil
}

// Authenticate logs in and caches the session uid.
func (c *rpcClient) Authenticate(ctx context.Context) error {
	result, err := c.call(ctx, "common", "authenticate",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}})
	if err != nil {
		return eris.Wrap(err, "odoo: authenticate")
	}

	var uid int
	if err := json.Unmarshal(result, &uid); err != nil || uid <= 0 {
		// Odoo returns the literal false for bad credentials.
		return eris.Errorf("odoo: authentication rejected for %s on %s", c.cfg.Username, c.cfg.Database)
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return nil
}

func (c *rpcClient) sessionUID(ctx context.Context) (int, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid > 0 {
		return uid, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	uid = c.uid
	c.mu.Unlock()
	return uid, nil
}

// executeKw invokes a model method through the object service.
func (c *rpcClient) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := c.sessionUID(ctx)
	if err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.call(ctx, "object", "execute_kw",
		[]any{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs})
}

// SearchCustomer resolves a partner by phone first, then by fuzzy name. A
// phone hit is authoritative; name hits are ranked through the match
// cascade over up to five ilike candidates.
func (c *rpcClient) SearchCustomer(ctx context.Context, name, phone string) (*CustomerMatch, error) {
	partnerFields := []string{"id", "name", "phone", "email"}

	if phone != "" {
		result, err := c.executeKw(ctx, "res.partner", "search_read",
			[]any{[]any{[]any{"phone", "=", phone}}},
			map[string]any{"fields": partnerFields, "limit": 1})
		if err != nil {
			return nil, eris.Wrap(err, "odoo: search customer by phone")
		}
		var records []partnerRecord
		if err := json.Unmarshal(result, &records); err != nil {
			return nil, eris.Wrap(err, "odoo: decode partner records")
		}
		if len(records) > 0 {
			return partnerToMatch(records[0], 1.0), nil
		}
	}

	if strings.TrimSpace(name) == "" {
		return nil, ErrCustomerNotFound
	}

	result, err := c.executeKw(ctx, "res.partner", "search_read",
		[]any{[]any{[]any{"name", "ilike", name}}},
		map[string]any{"fields": partnerFields, "limit": 5})
	if err != nil {
		return nil, eris.Wrap(err, "odoo: search customer by name")
	}
	var records []partnerRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, eris.Wrap(err, "odoo: decode partner records")
	}
	if len(records) == 0 {
		return nil, ErrCustomerNotFound
	}

	candidates := make([]match.Candidate, len(records))
	for i, r := range records {
		candidates[i] = match.Candidate{Key: match.Normalize(r.Name), Display: r.Name}
	}
	best, ok := c.matcher.Match(name, candidates)
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return partnerToMatch(records[best.Index], best.Score), nil
}

func partnerToMatch(r partnerRecord, confidence float64) *CustomerMatch {
	return &CustomerMatch{
		ID:         r.ID,
		Name:       r.Name,
		Phone:      string(r.Phone),
		Email:      string(r.Email),
		Confidence: confidence,
	}
}

// SearchProduct resolves a sellable product by name. A full-phrase ilike
// search runs first; when it comes back empty, each word longer than two
// characters is tried on its own before the cascade picks the best hit.
func (c *rpcClient) SearchProduct(ctx context.Context, name string) (*ProductMatch, error) {
	records, err := c.searchProducts(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		for _, word := range strings.Fields(name) {
			if len(word) <= 2 {
				continue
			}
			more, err := c.searchProducts(ctx, word)
			if err != nil {
				return nil, err
			}
			records = append(records, more...)
		}
	}
	if len(records) == 0 {
		return nil, ErrProductNotFound
	}

	candidates := make([]match.Candidate, len(records))
	for i, r := range records {
		candidates[i] = match.Candidate{Key: match.Normalize(r.Name), Display: r.Name}
	}
	best, ok := c.matcher.Match(name, candidates)
	if !ok {
		return nil, ErrProductNotFound
	}
	r := records[best.Index]
	return &ProductMatch{
		ID:          r.ID,
		Name:        r.Name,
		DefaultCode: string(r.DefaultCode),
		ListPrice:   r.ListPrice,
		Confidence:  best.Score,
	}, nil
}

func (c *rpcClient) searchProducts(ctx context.Context, query string) ([]productRecord, error) {
	result, err := c.executeKw(ctx, "product.product", "search_read",
		[]any{[]any{[]any{"name", "ilike", query}, []any{"sale_ok", "=", true}}},
		map[string]any{"fields": []string{"id", "name", "default_code", "list_price"}, "limit": 10})
	if err != nil {
		return nil, eris.Wrapf(err, "odoo: search product %q", query)
	}
	var records []productRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, eris.Wrap(err, "odoo: decode product records")
	}
	return records, nil
}

// CreateSaleOrder creates a sale.order with the given lines and reads back
// its assigned name.
func (c *rpcClient) CreateSaleOrder(ctx context.Context, partnerID int, lines []SaleLine, notes string) (*OrderResult, error) {
	if len(lines) == 0 {
		return nil, eris.New("odoo: sale order needs at least one line")
	}

	orderLines := make([]any, len(lines))
	for i, l := range lines {
		orderLines[i] = []any{0, 0, map[string]any{
			"product_id":      l.ProductID,
			"product_uom_qty": l.Quantity,
			"price_unit":      l.PriceUnit,
		}}
	}

	result, err := c.executeKw(ctx, "sale.order", "create",
		[]any{map[string]any{
			"partner_id": partnerID,
			"order_line": orderLines,
			"note":       notes,
		}}, nil)
	if err != nil {
		return nil, eris.Wrap(err, "odoo: create sale order")
	}

	var orderID int
	if err := json.Unmarshal(result, &orderID); err != nil {
		return nil, eris.Wrap(err, "odoo: decode order id")
	}

	name, err := c.readOrderName(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: orderID, OrderName: name}, nil
}

func (c *rpcClient) readOrderName(ctx context.Context, orderID int) (string, error) {
	result, err := c.executeKw(ctx, "sale.order", "read",
		[]any{[]any{orderID}, []string{"name"}}, nil)
	if err != nil {
		return "", eris.Wrapf(err, "odoo: read order %d", orderID)
	}
	var records []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(result, &records); err != nil || len(records) == 0 {
		return "", eris.Wrapf(err, "odoo: decode order %d name", orderID)
	}
	return records[0].Name, nil
}

// SubmitOrder resolves the payload's customer and products and creates a
// sale order from the lines that matched. Lines that resolve to no catalog
// product are reported, not silently dropped, and noted on the order for
// manual entry.
func (c *rpcClient) SubmitOrder(ctx context.Context, payload erp.Payload) (*OrderResult, error) {
	customer, err := c.SearchCustomer(ctx, payload.CustomerIdentifier, "")
	if err != nil {
		return nil, eris.Wrapf(err, "odoo: resolve customer %q", payload.CustomerIdentifier)
	}

	var (
		lines     []SaleLine
		unmatched []string
	)
	for _, line := range payload.OrderLines {
		product, err := c.SearchProduct(ctx, line.ProductName)
		if err != nil {
			if eris.Is(err, ErrProductNotFound) {
				unmatched = append(unmatched, fmt.Sprintf("%s (%.1f %s)", line.ProductName, line.Quantity, line.Unit))
				continue
			}
			return nil, err
		}
		lines = append(lines, SaleLine{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			PriceUnit: product.ListPrice,
		})
	}
	if len(lines) == 0 {
		return nil, eris.Errorf("odoo: no order lines matched catalog products (%d unmatched)", len(unmatched))
	}

	result, err := c.CreateSaleOrder(ctx, customer.ID, lines, submitNotes(payload, unmatched))
	if err != nil {
		return nil, err
	}
	result.UnmatchedProducts = unmatched
	return result, nil
}

func submitNotes(payload erp.Payload, unmatched []string) string {
	var parts []string
	if payload.Notes != "" {
		parts = append(parts, payload.Notes)
	}
	if payload.RequestedDeliveryDate != "" {
		parts = append(parts, "Requested delivery: "+payload.RequestedDeliveryDate)
	}
	if len(unmatched) > 0 {
		parts = append(parts, "Unmatched items (need manual add): "+strings.Join(unmatched, ", "))
	}
	parts = append(parts, "Source: "+payload.SourceChannel)
	return strings.Join(parts, "\n")
}
