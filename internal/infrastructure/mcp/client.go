// Package mcp talks to the tool registry: server discovery over plain REST
// and tool invocation over JSON-RPC 2.0.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/tool"
)

// Client implements discovery.Client and tool.Client against the registry.
type Client struct {
	httpClient *resty.Client
}

// NewClient constructs the registry client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
	}
}

// ListServers fetches the registered tool servers.
func (c *Client) ListServers(ctx context.Context) ([]discovery.ServerInfo, error) {
	var result struct {
		Servers []discovery.ServerInfo `json:"servers"`
	}
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/servers")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list servers error: %s", resp.String())
	}
	return result.Servers, nil
}

// ListServerTools fetches the tools via JSON-RPC call tools/list.
func (c *Client) ListServerTools(ctx context.Context, serverID string) ([]discovery.ToolInfo, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/list",
		"params":  map[string]any{},
		"id":      1,
	}

	var rpcResp rpcResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&rpcResp).
		Post(serverEndpoint(serverID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list tools error: %s", resp.String())
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	var result struct {
		Tools []discovery.ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool triggers a tool execution via JSON-RPC tools/call. A protocol
// error from the server is surfaced in the response rather than as a Go
// error so the caller can classify and retry it.
func (c *Client) CallTool(ctx context.Context, serverID, name string, args map[string]any) (*tool.CallResponse, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
		"id": name,
	}

	var rpcResp rpcResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&rpcResp).
		Post(serverEndpoint(serverID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tool call error: %s", resp.String())
	}
	if rpcResp.Error != nil {
		return &tool.CallResponse{
			Success: false,
			Error:   rpcResp.Error.Error(),
		}, nil
	}

	var result struct {
		Content []map[string]any `json:"content"`
		IsError bool             `json:"isError"`
		Error   string           `json:"error"`
	}
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, err
	}

	// The result envelope passes through untouched; the extractor owns
	// turning its content blocks into conversation text.
	var resultPayload any
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &resultPayload); err != nil {
			return nil, err
		}
	}

	if result.IsError {
		return &tool.CallResponse{
			Success: false,
			Result:  resultPayload,
			Error:   callErrorText(result.Error, result.Content),
		}, nil
	}
	return &tool.CallResponse{
		Success: true,
		Result:  resultPayload,
	}, nil
}

func serverEndpoint(serverID string) string {
	return fmt.Sprintf("/v1/servers/%s/mcp", serverID)
}

// callErrorText prefers the explicit error field; failing that it joins the
// text blocks so the retry classifier has something to inspect.
func callErrorText(explicit string, content []map[string]any) string {
	if explicit != "" {
		return explicit
	}
	var parts []string
	for _, block := range content {
		if text, ok := block["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "tool execution failed"
	}
	return strings.Join(parts, "\n")
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *rpcError) Error() string {
	return fmt.Sprintf("mcp error (%d): %s", r.Code, r.Message)
}

// Ensure interface compliance.
var (
	_ discovery.Client = (*Client)(nil)
	_ tool.Client      = (*Client)(nil)
)
