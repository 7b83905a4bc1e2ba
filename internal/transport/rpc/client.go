package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"
)

// Client pushes events into a gateway over JSON-RPC. Each call uses its own
// short-lived TCP connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient accepts either host:port or a URL whose host is the RPC address.
func NewClient(target string) *Client {
	return &Client{
		addr:        resolveRPCAddr(target),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// PushEvent broadcasts event with payload to room and reports whether the
// target principal of a user room is connected to that gateway.
func (c *Client) PushEvent(ctx context.Context, room, event string, payload json.RawMessage) (*PushResponse, error) {
	if c.addr == "" {
		return nil, errors.New("gateway rpc address is not configured")
	}

	req := &PushRequest{Room: room, Event: event, Payload: payload}
	var resp PushResponse

	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.call(ctx, "Gateway.PushEvent", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to push event to gateway: %w", err)
	}
	if !resp.OK {
		return nil, errors.New("gateway rpc returned ok=false")
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
