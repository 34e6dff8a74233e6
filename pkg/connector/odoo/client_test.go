package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/connector"
)

type rpcStub struct {
	t *testing.T
	// handle receives (service, method, args) and returns the result value
	handle func(service, method string, args []interface{}) interface{}
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc" {
		s.t.Errorf("unexpected path %s", r.URL.Path)
		http.NotFound(w, r)
		return
	}
	var req struct {
		ID     int64 `json:"id"`
		Params struct {
			Service string        `json:"service"`
			Method  string        `json:"method"`
			Args    []interface{} `json:"args"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("decode request: %v", err)
		return
	}
	result := s.handle(req.Params.Service, req.Params.Method, req.Params.Args)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.t.Errorf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, handle func(service, method string, args []interface{}) interface{}) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(&rpcStub{t: t, handle: handle})
	t.Cleanup(srv.Close)
	client := NewClient(config.OdooConfig{
		URL:      srv.URL,
		Database: "bridge",
		Username: "admin",
		Password: "secret",
	}, zap.NewNop())
	return client, srv
}

func authHandler(uid interface{}, next func(service, method string, args []interface{}) interface{}) func(string, string, []interface{}) interface{} {
	return func(service, method string, args []interface{}) interface{} {
		switch {
		case service == "common" && method == "version":
			return map[string]interface{}{"server_version": "17.0"}
		case service == "common" && method == "authenticate":
			return uid
		default:
			return next(service, method, args)
		}
	}
}

func TestConnectAuthenticates(t *testing.T) {
	client, _ := newTestClient(t, authHandler(float64(7), nil))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if !client.IsConnected(context.Background()) {
		t.Fatalf("expected connected client")
	}
	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if client.IsConnected(context.Background()) {
		t.Fatalf("expected disconnected client")
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	// odoo returns false instead of a uid on bad credentials
	client, _ := newTestClient(t, authHandler(false, nil))

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected authentication error")
	}
	if client.IsConnected(context.Background()) {
		t.Fatalf("client must not report connected after auth failure")
	}
}

func TestCreateRecord(t *testing.T) {
	client, _ := newTestClient(t, authHandler(float64(7), func(service, method string, args []interface{}) interface{} {
		if service != "object" || method != "execute_kw" {
			t.Fatalf("unexpected call %s.%s", service, method)
		}
		if args[3] != "product.template" || args[4] != "create" {
			t.Fatalf("unexpected model call: %v %v", args[3], args[4])
		}
		return float64(42)
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	result := client.CreateRecord(context.Background(), "product.template", map[string]interface{}{"name": "Widget"})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if result.RecordID != 42 {
		t.Fatalf("expected record id 42, got %d", result.RecordID)
	}
}

func TestUpdateRecordRemoteRefusal(t *testing.T) {
	client, _ := newTestClient(t, authHandler(float64(7), func(service, method string, args []interface{}) interface{} {
		return false
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	result := client.UpdateRecord(context.Background(), "product.template", 42, map[string]interface{}{"name": "Widget"})
	if result.Success {
		t.Fatalf("expected failure when the remote write returns false")
	}
}

func TestFindByExternalID(t *testing.T) {
	client, _ := newTestClient(t, authHandler(float64(7), func(service, method string, args []interface{}) interface{} {
		if args[3] != "ir.model.data" || args[4] != "search_read" {
			t.Fatalf("unexpected model call: %v %v", args[3], args[4])
		}
		return []map[string]interface{}{
			{"model": "product.template", "res_id": float64(42)},
		}
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	rec, err := client.FindByExternalID(context.Background(), "erpA_inst1_P1")
	if err != nil {
		t.Fatalf("FindByExternalID() error: %v", err)
	}
	if rec == nil || rec.RecordID != 42 || rec.Model != "product.template" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFindByExternalIDMiss(t *testing.T) {
	client, _ := newTestClient(t, authHandler(float64(7), func(service, method string, args []interface{}) interface{} {
		return []map[string]interface{}{}
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	rec, err := client.FindByExternalID(context.Background(), "erpA_inst1_missing")
	if err != nil {
		t.Fatalf("FindByExternalID() error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record on miss, got %+v", rec)
	}
}

func TestSearchRecordsEncodesDomain(t *testing.T) {
	var gotDomain interface{}
	client, _ := newTestClient(t, authHandler(float64(7), func(service, method string, args []interface{}) interface{} {
		gotDomain = args[5]
		return []interface{}{float64(1), float64(2)}
	}))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	ids, err := client.SearchRecords(context.Background(), "product.category",
		[]connector.Condition{connector.Eq("name", "Tools")}, 1)
	if err != nil {
		t.Fatalf("SearchRecords() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	// positional args arrive as [domain], with the domain a list of triples
	positional, ok := gotDomain.([]interface{})
	if !ok || len(positional) != 1 {
		t.Fatalf("unexpected positional args: %v", gotDomain)
	}
	domain, ok := positional[0].([]interface{})
	if !ok || len(domain) != 1 {
		t.Fatalf("unexpected domain encoding: %v", positional[0])
	}
	triple, ok := domain[0].([]interface{})
	if !ok || len(triple) != 3 || triple[0] != "name" || triple[1] != "=" || triple[2] != "Tools" {
		t.Fatalf("unexpected domain triple: %v", domain[0])
	}
}
