package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kijani-supplies/order-desk/internal/erp"
	"github.com/kijani-supplies/order-desk/internal/resilience"
)

type fakePartner struct {
	ID    int
	Name  string
	Phone string
	Email string
}

type fakeProduct struct {
	ID          int
	Name        string
	DefaultCode string
	ListPrice   float64
}

// fakeOdoo serves the JSON-RPC surface the client uses: authenticate,
// search_read on res.partner and product.product, and sale.order
// create/read.
type fakeOdoo struct {
	t *testing.T

	partners []fakePartner
	products []fakeProduct

	failFirst     int // serve this many HTTP 503s before behaving
	createdOrders []map[string]any
	nextOrderID   int
}

func newFakeOdoo(t *testing.T) *fakeOdoo {
	return &fakeOdoo{
		t: t,
		partners: []fakePartner{
			{ID: 11, Name: "Saruni Mara Lodge", Phone: "+254722000001", Email: "orders@sarunimara.co.ke"},
			{ID: 12, Name: "Kilima Safari Lodge", Phone: "+254722000002"},
			{ID: 13, Name: "Governors Camp", Phone: "+254722000003"},
		},
		products: []fakeProduct{
			{ID: 201, Name: "Rice (Basmati) 25kg", DefaultCode: "RICE-BAS-25", ListPrice: 2500},
			{ID: 202, Name: "Cooking Oil 20L", DefaultCode: "OIL-CK-20", ListPrice: 4200},
			{ID: 203, Name: "Sugar 50kg", DefaultCode: "SUG-50", ListPrice: 5600},
		},
		nextOrderID: 100,
	}
}

func (f *fakeOdoo) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(f.handle))
}

func (f *fakeOdoo) handle(w http.ResponseWriter, r *http.Request) {
	if f.failFirst > 0 {
		f.failFirst--
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Path != "/jsonrpc" {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Params struct {
			Service string            `json:"service"`
			Method  string            `json:"method"`
			Args    []json.RawMessage `json:"args"`
		} `json:"params"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	switch req.Params.Service {
	case "common":
		f.handleAuthenticate(w, req.Params.Args)
	case "object":
		f.handleExecuteKw(w, req.Params.Args)
	default:
		f.respondError(w, "unknown service "+req.Params.Service)
	}
}

func (f *fakeOdoo) handleAuthenticate(w http.ResponseWriter, args []json.RawMessage) {
	var db, user, password string
	require.NoError(f.t, json.Unmarshal(args[0], &db))
	require.NoError(f.t, json.Unmarshal(args[1], &user))
	require.NoError(f.t, json.Unmarshal(args[2], &password))
	if password != "good-key" {
		f.respond(w, false)
		return
	}
	f.respond(w, 7)
}

func (f *fakeOdoo) handleExecuteKw(w http.ResponseWriter, args []json.RawMessage) {
	var uid int
	require.NoError(f.t, json.Unmarshal(args[1], &uid))
	require.Equal(f.t, 7, uid, "execute_kw before authentication")

	var model, method string
	require.NoError(f.t, json.Unmarshal(args[3], &model))
	require.NoError(f.t, json.Unmarshal(args[4], &method))

	var modelArgs []json.RawMessage
	require.NoError(f.t, json.Unmarshal(args[5], &modelArgs))
	kwargs := map[string]any{}
	if len(args) > 6 {
		require.NoError(f.t, json.Unmarshal(args[6], &kwargs))
	}

	switch {
	case model == "res.partner" && method == "search_read":
		f.searchPartners(w, modelArgs, kwargs)
	case model == "product.product" && method == "search_read":
		f.searchProducts(w, modelArgs, kwargs)
	case model == "sale.order" && method == "create":
		var values map[string]any
		require.NoError(f.t, json.Unmarshal(modelArgs[0], &values))
		f.nextOrderID++
		values["__id"] = f.nextOrderID
		f.createdOrders = append(f.createdOrders, values)
		f.respond(w, f.nextOrderID)
	case model == "sale.order" && method == "read":
		var ids []int
		require.NoError(f.t, json.Unmarshal(modelArgs[0], &ids))
		f.respond(w, []map[string]any{{"id": ids[0], "name": "SO1042"}})
	default:
		f.respondError(w, "unhandled "+model+"."+method)
	}
}

// domainClause pulls [field, op, value] out of a search domain entry.
func domainClause(t *testing.T, raw json.RawMessage) (string, string, string) {
	var clause []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &clause))
	var field, op string
	require.NoError(t, json.Unmarshal(clause[0], &field))
	require.NoError(t, json.Unmarshal(clause[1], &op))
	var value string
	if err := json.Unmarshal(clause[2], &value); err != nil {
		value = string(clause[2])
	}
	return field, op, value
}

func (f *fakeOdoo) searchPartners(w http.ResponseWriter, modelArgs []json.RawMessage, kwargs map[string]any) {
	var domain []json.RawMessage
	require.NoError(f.t, json.Unmarshal(modelArgs[0], &domain))
	field, _, value := domainClause(f.t, domain[0])

	var out []map[string]any
	for _, p := range f.partners {
		switch field {
		case "phone":
			if p.Phone != value {
				continue
			}
		case "name":
			if !strings.Contains(strings.ToLower(p.Name), strings.ToLower(value)) {
				continue
			}
		}
		email := any(false)
		if p.Email != "" {
			email = p.Email
		}
		out = append(out, map[string]any{"id": p.ID, "name": p.Name, "phone": p.Phone, "email": email})
	}
	if limit, ok := kwargs["limit"].(float64); ok && len(out) > int(limit) {
		out = out[:int(limit)]
	}
	f.respond(w, out)
}

func (f *fakeOdoo) searchProducts(w http.ResponseWriter, modelArgs []json.RawMessage, kwargs map[string]any) {
	var domain []json.RawMessage
	require.NoError(f.t, json.Unmarshal(modelArgs[0], &domain))
	_, _, value := domainClause(f.t, domain[0])

	if value == "boom" {
		f.respondError(w, "Odoo Server Error: boom")
		return
	}

	var out []map[string]any
	for _, p := range f.products {
		if !strings.Contains(strings.ToLower(p.Name), strings.ToLower(value)) {
			continue
		}
		out = append(out, map[string]any{
			"id": p.ID, "name": p.Name, "default_code": p.DefaultCode, "list_price": p.ListPrice,
		})
	}
	if limit, ok := kwargs["limit"].(float64); ok && len(out) > int(limit) {
		out = out[:int(limit)]
	}
	f.respond(w, out)
}

func (f *fakeOdoo) respond(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": 1, "result": result,
	}))
}

func (f *fakeOdoo) respondError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": 1,
		"error": map[string]any{
			"code":    200,
			"message": "Odoo Server Error",
			"data":    map[string]any{"message": msg},
		},
	}))
}

func newTestClient(t *testing.T, f *fakeOdoo, opts ...Option) Client {
	srv := f.server()
	t.Cleanup(srv.Close)
	cfg := Config{
		URL:      srv.URL,
		Database: "kijani",
		Username: "api@kijani.co.ke",
		Password: "good-key",
	}
	opts = append([]Option{WithRetryPolicy(resilience.Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Jitter:    -1,
	})}, opts...)
	return NewClient(cfg, opts...)
}

func TestAuthenticate(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))
	require.NoError(t, c.Authenticate(context.Background()))
}

func TestAuthenticateRejected(t *testing.T) {
	f := newFakeOdoo(t)
	srv := f.server()
	t.Cleanup(srv.Close)

	c := NewClient(Config{URL: srv.URL, Database: "kijani", Username: "x", Password: "wrong"},
		WithRetryPolicy(resilience.Policy{Attempts: 1}))
	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication rejected")
}

func TestSearchCustomerByPhone(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	got, err := c.SearchCustomer(context.Background(), "whoever", "+254722000002")
	require.NoError(t, err)
	assert.Equal(t, 12, got.ID)
	assert.Equal(t, "Kilima Safari Lodge", got.Name)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestSearchCustomerByName(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	got, err := c.SearchCustomer(context.Background(), "saruni mara", "")
	require.NoError(t, err)
	assert.Equal(t, 11, got.ID)
	assert.Equal(t, "Saruni Mara Lodge", got.Name)
	assert.Greater(t, got.Confidence, 0.5)
	assert.Equal(t, "orders@sarunimara.co.ke", got.Email)
}

func TestSearchCustomerNotFound(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	_, err := c.SearchCustomer(context.Background(), "Mountain View Hotel", "")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestSearchProduct(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	got, err := c.SearchProduct(context.Background(), "rice")
	require.NoError(t, err)
	assert.Equal(t, 201, got.ID)
	assert.Equal(t, "RICE-BAS-25", got.DefaultCode)
	assert.Equal(t, 2500.0, got.ListPrice)
}

func TestSearchProductWordFallback(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	// The parenthesis in the catalog name defeats the full-phrase search;
	// the per-word queries still find it.
	got, err := c.SearchProduct(context.Background(), "basmati 25kg")
	require.NoError(t, err)
	assert.Equal(t, 201, got.ID)
}

func TestSearchProductNotFound(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	_, err := c.SearchProduct(context.Background(), "quinoa")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSearchProductServerError(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	_, err := c.SearchProduct(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc error")
	assert.Contains(t, err.Error(), "boom")
}

func TestCreateSaleOrder(t *testing.T) {
	f := newFakeOdoo(t)
	c := newTestClient(t, f)

	got, err := c.CreateSaleOrder(context.Background(), 11, []SaleLine{
		{ProductID: 201, Quantity: 3, PriceUnit: 2500},
		{ProductID: 203, Quantity: 1, PriceUnit: 5600},
	}, "rush order")
	require.NoError(t, err)
	assert.Equal(t, 101, got.OrderID)
	assert.Equal(t, "SO1042", got.OrderName)

	require.Len(t, f.createdOrders, 1)
	created := f.createdOrders[0]
	assert.Equal(t, float64(11), created["partner_id"])
	assert.Equal(t, "rush order", created["note"])
	lines, ok := created["order_line"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 2)
	first, ok := lines[0].([]any)
	require.True(t, ok)
	values, ok := first[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(201), values["product_id"])
	assert.Equal(t, float64(3), values["product_uom_qty"])
}

func TestCreateSaleOrderNoLines(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	_, err := c.CreateSaleOrder(context.Background(), 11, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one line")
}

func TestSubmitOrder(t *testing.T) {
	f := newFakeOdoo(t)
	c := newTestClient(t, f)

	payload := erp.Payload{
		CustomerIdentifier:    "Saruni Mara",
		SourceChannel:         "whatsapp",
		RequestedDeliveryDate: "Friday",
		Notes:                 "Urgency: high",
		OrderLines: []erp.OrderLine{
			{ProductName: "basmati rice", Quantity: 5, Unit: "bags"},
			{ProductName: "golden syrup", Quantity: 2, Unit: "tins"},
		},
	}

	got, err := c.SubmitOrder(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "SO1042", got.OrderName)
	require.Len(t, got.UnmatchedProducts, 1)
	assert.Equal(t, "golden syrup (2.0 tins)", got.UnmatchedProducts[0])

	require.Len(t, f.createdOrders, 1)
	note, _ := f.createdOrders[0]["note"].(string)
	assert.Contains(t, note, "Urgency: high")
	assert.Contains(t, note, "Requested delivery: Friday")
	assert.Contains(t, note, "Unmatched items (need manual add): golden syrup (2.0 tins)")
	assert.Contains(t, note, "Source: whatsapp")
}

func TestSubmitOrderNothingMatched(t *testing.T) {
	c := newTestClient(t, newFakeOdoo(t))

	payload := erp.Payload{
		CustomerIdentifier: "Governors",
		SourceChannel:      "whatsapp",
		OrderLines:         []erp.OrderLine{{ProductName: "quinoa", Quantity: 1, Unit: "bag"}},
	}
	_, err := c.SubmitOrder(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no order lines matched")
}

func TestCallRetriesTransientFailures(t *testing.T) {
	f := newFakeOdoo(t)
	f.failFirst = 2
	c := newTestClient(t, f)

	// Two 503s and then a clean authenticate, all within one call.
	require.NoError(t, c.Authenticate(context.Background()))
}
