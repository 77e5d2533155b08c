package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fiatmesh/internal/events"
	"fiatmesh/internal/evidence"
	"fiatmesh/internal/rates"
	"fiatmesh/internal/services"
	"fiatmesh/internal/store"
)

const (
	testRequesterAddr = "fm1q20jtq05fmctxxhatu47alvtdknal3q40wgfjn"
	testValidatorAddr = "fm1y43dlv4x5v724xpur59h4qw9pf8pqjsqytul6w"
	testAdminAddr     = "fm1tah94tygmsldjeu3v7c3w7pkehnguvqc93t8zg"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemStore()
	pub := &events.MemoryPublisher{}
	engine := &services.ValidationEngine{
		Store:             st,
		Publisher:         pub,
		FallbackThreshold: 3,
		ReviewRewardCents: 10,
		VoteDeadline:      time.Hour,
		StakeLock:         24 * time.Hour,
		DisputeWindow:     24 * time.Hour,
	}
	orders := &services.OrderService{
		Store:              st,
		Rates:              rates.NewCache(rates.FixedSource{Value: "83.50"}, time.Minute, ""),
		Evidence:           &evidence.Store{},
		Publisher:          pub,
		Validation:         engine,
		TTL:                time.Hour,
		MinAmountUsdcCents: 100,
		DisputeWindow:      24 * time.Hour,
	}
	settlement := &services.SettlementService{Store: st, Publisher: pub}
	admin := services.NewAdminService(st, pub, []string{testAdminAddr}, 24*time.Hour)

	handler := NewHandler(orders, engine, settlement, admin)
	srv := httptest.NewServer(NewServer(handler, nil).Router)
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateOrderRequiresUser(t *testing.T) {
	srv := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"type":             "sell",
		"requesterAddress": testRequesterAddr,
		"amountUsdcCents":  5000,
		"fiatCurrency":     "INR",
	}, nil)
	if status != http.StatusUnauthorized || env.Success {
		t.Errorf("status = %d, success = %v, want 401 failure", status, env.Success)
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	srv := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"type":             "sell",
		"requesterAddress": testRequesterAddr,
		"amountUsdcCents":  5000,
		"fiatCurrency":     "INR",
		"paymentMethod":    "upi",
	}, map[string]string{"X-User-Id": "alice"})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("create: status = %d, body = %s", status, env.Error)
	}

	var created struct {
		OrderID         string `json:"orderId"`
		Status          string `json:"status"`
		AmountFiatCents int64  `json:"amountFiatCents"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if created.Status != "created" || created.AmountFiatCents != 417500 {
		t.Errorf("created order = %+v", created)
	}

	status, env = doJSON(t, http.MethodGet, srv.URL+"/orders/"+created.OrderID, nil, nil)
	if status != http.StatusOK || !env.Success {
		t.Errorf("get: status = %d", status)
	}
}

func TestCreateOrderValidationStatus(t *testing.T) {
	srv := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, srv.URL+"/orders", map[string]any{
		"type":             "sell",
		"requesterAddress": "not-bech32",
		"amountUsdcCents":  5000,
		"fiatCurrency":     "INR",
	}, map[string]string{"X-User-Id": "alice"})
	if status != http.StatusBadRequest || env.Success {
		t.Errorf("status = %d, want 400", status)
	}
	if env.Error == "" {
		t.Error("error message missing from envelope")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	srv := newTestServer(t)
	status, _ := doJSON(t, http.MethodGet, srv.URL+"/orders/missing", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestRegisterValidatorEndpoint(t *testing.T) {
	srv := newTestServer(t)
	status, env := doJSON(t, http.MethodPost, srv.URL+"/validators", map[string]any{
		"address":     testValidatorAddr,
		"stakedCents": 10000,
	}, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("register: status = %d, error = %s", status, env.Error)
	}

	status, env = doJSON(t, http.MethodGet, srv.URL+"/validators/"+testValidatorAddr, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("get validator: status = %d", status)
	}
	var profile struct {
		Address     string `json:"address"`
		StakedCents int64  `json:"stakedCents"`
		Accuracy    int    `json:"accuracy"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.StakedCents != 10000 || profile.Accuracy != 100 {
		t.Errorf("profile = %+v", profile)
	}
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	srv := newTestServer(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/settlement/sweep", nil, nil)
	if status != http.StatusForbidden {
		t.Errorf("sweep without admin header: status = %d, want 403", status)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/admin/disputes/some-order", map[string]any{
		"resolution": "approve",
	}, map[string]string{"X-Admin-Address": "fm1kn0fu7m0dhwmt7yvc7w6vm3c54e9wvhj6mcnsc"})
	if status != http.StatusForbidden {
		t.Errorf("dispute resolution by non-admin: status = %d, want 403", status)
	}

	status, env := doJSON(t, http.MethodPost, srv.URL+"/admin/settlement/sweep", nil,
		map[string]string{"X-Admin-Address": testAdminAddr})
	if status != http.StatusOK || !env.Success {
		t.Errorf("sweep by admin: status = %d", status)
	}
}

func TestInvalidTaskID(t *testing.T) {
	srv := newTestServer(t)
	status, _ := doJSON(t, http.MethodGet, srv.URL+"/tasks/abc", nil, nil)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}
