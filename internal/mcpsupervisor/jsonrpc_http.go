package mcpsupervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/coreruntime/janusd/internal/apptypes"
)

// toolClient is the transport-agnostic surface the service wrapper calls;
// rpcClient (stdio) and httpRPCClient (http/sse) both satisfy it.
type toolClient interface {
	listTools(ctx context.Context) ([]Tool, error)
	callTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error)
}

// httpRPCClient issues one JSON-RPC request per call as a synchronous
// HTTP POST, the streamable-HTTP shape collapsed to its simplest case: a
// single JSON response body per request, not an SSE event stream.
type httpRPCClient struct {
	client  *http.Client
	url     string
	headers http.Header
	nextID  int64
}

func newHTTPRPCClient(client *http.Client, headers http.Header, url string) *httpRPCClient {
	return &httpRPCClient{client: client, url: url, headers: headers}
}

func (c *httpRPCClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "encoding rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "building rpc request", err)
	}
	req.Header = c.headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "rpc request failed", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "decoding rpc response", err)
	}
	if rpcResp.Error != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "", rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func (c *httpRPCClient) listTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "decoding tools/list result", err)
	}
	out := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, Tool{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

func (c *httpRPCClient) callTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": arguments})
}
