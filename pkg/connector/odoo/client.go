// Package odoo implements the target connector over Odoo's JSON-RPC API.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/config"
	"github.com/erpbridge/erpbridge/pkg/connector"
)

const externalIDModel = "ir.model.data"

type Client struct {
	url      string
	database string
	username string
	password string

	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	uid       int64
	connected bool

	requestID atomic.Int64
}

// DefaultRequestTimeout bounds one RPC round trip when the configuration
// leaves it unset.
const DefaultRequestTimeout = 30 * time.Second

func NewClient(cfg config.OdooConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		url:      strings.TrimRight(cfg.URL, "/"),
		database: cfg.Database,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Args    []interface{} `json:"args"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, service, method string, args []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.requestID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", service, method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s.%s: unexpected status %d", service, method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("remote error from %s.%s: %s", service, method, rpcResp.Error.Message)
	}
	if out != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s.%s result: %w", service, method, err)
		}
	}
	return nil
}

// executeKw invokes a model method as the authenticated user.
func (c *Client) executeKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, out interface{}) error {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid == 0 {
		return fmt.Errorf("not authenticated")
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	callArgs := []interface{}{c.database, uid, c.password, model, method, args, kwargs}
	return c.call(ctx, "object", "execute_kw", callArgs, out)
}

func (c *Client) Connect(ctx context.Context) error {
	var version map[string]interface{}
	if err := c.call(ctx, "common", "version", []interface{}{}, &version); err != nil {
		return fmt.Errorf("probe server version: %w", err)
	}
	c.logger.Info("connecting to odoo",
		zap.String("url", c.url),
		zap.Any("server_version", version["server_version"]),
	)

	// authenticate returns the uid on success and false on bad credentials
	var uid interface{}
	args := []interface{}{c.database, c.username, c.password, map[string]interface{}{}}
	if err := c.call(ctx, "common", "authenticate", args, &uid); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	id, ok := uid.(float64)
	if !ok || id == 0 {
		return fmt.Errorf("authentication failed: invalid credentials for %q", c.username)
	}

	c.mu.Lock()
	c.uid = int64(id)
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to odoo", zap.Int64("uid", int64(id)))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.uid = 0
	c.connected = false
	c.mu.Unlock()
	c.logger.Info("disconnected from odoo")
	return nil
}

func (c *Client) IsConnected(ctx context.Context) bool {
	c.mu.Lock()
	connected := c.connected && c.uid != 0
	c.mu.Unlock()
	return connected
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.IsConnected(ctx) {
		return nil
	}
	return c.Connect(ctx)
}

func (c *Client) CreateRecord(ctx context.Context, model string, values map[string]interface{}) connector.SyncResult {
	if err := c.ensureConnected(ctx); err != nil {
		return connectorFailure("create", model, 0, err, values)
	}
	var recordID int64
	if err := c.executeKw(ctx, model, "create", []interface{}{values}, nil, &recordID); err != nil {
		return connectorFailure("create", model, 0, err, values)
	}
	c.logger.Info("created record", zap.String("model", model), zap.Int64("record_id", recordID))
	return connector.SyncResult{
		Success:  true,
		RecordID: recordID,
		Message:  fmt.Sprintf("record created in %s", model),
	}
}

func (c *Client) UpdateRecord(ctx context.Context, model string, recordID int64, values map[string]interface{}) connector.SyncResult {
	if err := c.ensureConnected(ctx); err != nil {
		return connectorFailure("update", model, recordID, err, values)
	}
	var ok bool
	if err := c.executeKw(ctx, model, "write", []interface{}{[]int64{recordID}, values}, nil, &ok); err != nil {
		return connectorFailure("update", model, recordID, err, values)
	}
	if !ok {
		return connector.Failure("failed to update record %d in %s", recordID, model)
	}
	c.logger.Info("updated record", zap.String("model", model), zap.Int64("record_id", recordID))
	return connector.SyncResult{
		Success:  true,
		RecordID: recordID,
		Message:  fmt.Sprintf("record %d updated in %s", recordID, model),
	}
}

func (c *Client) DeleteRecord(ctx context.Context, model string, recordID int64) connector.SyncResult {
	if err := c.ensureConnected(ctx); err != nil {
		return connectorFailure("delete", model, recordID, err, nil)
	}
	var ok bool
	if err := c.executeKw(ctx, model, "unlink", []interface{}{[]int64{recordID}}, nil, &ok); err != nil {
		return connectorFailure("delete", model, recordID, err, nil)
	}
	if !ok {
		return connector.Failure("failed to delete record %d from %s", recordID, model)
	}
	c.logger.Info("deleted record", zap.String("model", model), zap.Int64("record_id", recordID))
	return connector.SyncResult{
		Success:  true,
		RecordID: recordID,
		Message:  fmt.Sprintf("record %d deleted from %s", recordID, model),
	}
}

func connectorFailure(op, model string, recordID int64, err error, values map[string]interface{}) connector.SyncResult {
	result := connector.Failure("failed to %s record in %s: %v", op, model, err)
	result.ErrorDetails = map[string]interface{}{
		"model": model,
		"error": err.Error(),
	}
	if recordID != 0 {
		result.ErrorDetails["record_id"] = recordID
	}
	if values != nil {
		result.ErrorDetails["values"] = values
	}
	return result
}

func encodeDomain(domain []connector.Condition) []interface{} {
	out := make([]interface{}, 0, len(domain))
	for _, cond := range domain {
		out = append(out, []interface{}{cond.Field, cond.Op, cond.Value})
	}
	return out
}

func (c *Client) SearchRecords(ctx context.Context, model string, domain []connector.Condition, limit int) ([]int64, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	kwargs := map[string]interface{}{}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	var ids []int64
	if err := c.executeKw(ctx, model, "search", []interface{}{encodeDomain(domain)}, kwargs, &ids); err != nil {
		return nil, fmt.Errorf("search %s: %w", model, err)
	}
	return ids, nil
}

func (c *Client) SearchRead(ctx context.Context, model string, domain []connector.Condition, fields []string, limit int) ([]map[string]interface{}, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	kwargs := map[string]interface{}{}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	var rows []map[string]interface{}
	if err := c.executeKw(ctx, model, "search_read", []interface{}{encodeDomain(domain)}, kwargs, &rows); err != nil {
		return nil, fmt.Errorf("search_read %s: %w", model, err)
	}
	return rows, nil
}

func (c *Client) FindByExternalID(ctx context.Context, externalID string) (*connector.Record, error) {
	rows, err := c.SearchRead(ctx, externalIDModel,
		[]connector.Condition{connector.Eq("complete_name", externalID)},
		[]string{"model", "res_id"}, 1)
	if err != nil {
		return nil, fmt.Errorf("find external id %s: %w", externalID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	model, _ := row["model"].(string)
	resID, err := asInt64(row["res_id"])
	if err != nil {
		return nil, fmt.Errorf("find external id %s: %w", externalID, err)
	}
	return &connector.Record{Model: model, RecordID: resID, ExternalID: externalID}, nil
}

func (c *Client) SetExternalID(ctx context.Context, model string, recordID int64, externalID string) error {
	module := "__import__"
	name := externalID
	if idx := strings.Index(externalID, "."); idx > 0 {
		module = externalID[:idx]
		name = externalID[idx+1:]
	}
	result := c.CreateRecord(ctx, externalIDModel, map[string]interface{}{
		"name":     name,
		"module":   module,
		"model":    model,
		"res_id":   recordID,
		"noupdate": true,
	})
	if !result.Success {
		return fmt.Errorf("set external id %s for %s/%d: %s", externalID, model, recordID, result.Message)
	}
	return nil
}

func (c *Client) GetExternalID(ctx context.Context, model string, recordID int64) (string, error) {
	rows, err := c.SearchRead(ctx, externalIDModel,
		[]connector.Condition{connector.Eq("model", model), connector.Eq("res_id", recordID)},
		[]string{"complete_name"}, 1)
	if err != nil {
		return "", fmt.Errorf("get external id for %s/%d: %w", model, recordID, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	name, _ := rows[0]["complete_name"].(string)
	return name, nil
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected numeric value %T", v)
	}
}

var _ connector.Connector = (*Client)(nil)
