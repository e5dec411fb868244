package mcpsupervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/coreruntime/janusd/internal/apptypes"
)

// rpcRequest and rpcResponse model the subset of JSON-RPC 2.0 this package
// speaks to an MCP subprocess: tools/list and tools/call.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// rpcClient is a line-delimited JSON-RPC 2.0 client over an io.Writer/
// io.Reader pair, matching the stdio framing MCP servers speak.
type rpcClient struct {
	w io.Writer

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	closed  bool
}

func newRPCClient(w io.Writer, r io.Reader, wg *sync.WaitGroup) *rpcClient {
	c := &rpcClient{w: w, pending: make(map[int64]chan rpcResponse)}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(r)
	}()
	return c
}

func (c *rpcClient) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.mu.Lock()
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = map[int64]chan rpcResponse{}
	c.mu.Unlock()
}

// call sends method/params and blocks for the matching response, ctx
// cancellation, or the transport closing.
func (c *rpcClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apptypes.New(apptypes.KindMCPTransportError, "mcp transport closed")
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "encoding rpc request", err)
	}
	line = append(line, '\n')
	if _, err := c.w.Write(line); err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "writing rpc request", err)
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, apptypes.New(apptypes.KindMCPTransportError, "mcp transport closed before response")
		}
		if resp.Error != nil {
			return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "", resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

type listToolsResult struct {
	Tools []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"tools"`
}

func (c *rpcClient) listTools(ctx context.Context) ([]Tool, error) {
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

func (c *rpcClient) callTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": arguments})
}
