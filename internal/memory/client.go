package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/dancxjo/psyche/internal/rpcutil"
)

// Client dials the memory daemon's JSON-RPC socket, opening one connection
// per call (each connection is request-response, then half-closed), matching
// the wire contract in full.
type Client struct {
	network string
	address string
	nextID  atomic.Int64
}

// NewClient creates a Client that dials network/address (typically
// "unix", "/path/to/memory.sock") for each call.
func NewClient(network, address string) *Client {
	return &Client{network: network, address: address}
}

// Call issues one JSON-RPC request and decodes its result into out (if
// non-nil). The connection's write side is closed after sending so the
// server can read to end-of-stream.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}
	id, err := json.Marshal(c.nextID.Add(1))
	if err != nil {
		return fmt.Errorf("marshal request id: %w", err)
	}
	req := rpcutil.Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}
	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", method, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("dial memory service at %s: %w", c.address, err)
	}
	defer conn.Close()

	if _, err := conn.Write(reqData); err != nil {
		return fmt.Errorf("write request to memory service: %w", err)
	}
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = closer.CloseWrite()
	}

	body, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("read response from memory service: %w", err)
	}

	var resp rpcutil.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response from memory service: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result for %s: %w", method, err)
	}
	return nil
}

// Memorize calls the memorize method.
func (c *Client) Memorize(ctx context.Context, kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal memorize data: %w", err)
	}
	return c.Call(ctx, "memorize", memorizeParams{Kind: kind, Data: raw}, nil)
}

// List calls the list method.
func (c *Client) List(ctx context.Context, kind string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.Call(ctx, "list", listParams{Kind: kind}, &out)
	return out, err
}

// RetrieveRelated calls the retrieve_related method.
func (c *Client) RetrieveRelated(ctx context.Context, how string, topK int) ([]StoredImpression, error) {
	var out []StoredImpression
	err := c.Call(ctx, "retrieve_related", retrieveRelatedParams{How: how, TopK: topK}, &out)
	return out, err
}

// Ping calls the ping method.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "ping", struct{}{}, nil)
}
