package mcpquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/domsig/report"
)

// Client calls domsig tools over QUIC.
type Client struct {
	addr    string
	tlsCfg  *tls.Config
	conn    *quic.Conn
	stream  *quic.Stream
	session *mcp.ClientSession
}

// NewClient creates a client for addr. A nil tlsCfg verifies the server
// certificate.
func NewClient(addr string, tlsCfg *tls.Config) *Client {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	return &Client{addr: addr, tlsCfg: tlsCfg}
}

// Connect dials the server and runs the MCP initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := quic.DialAddr(ctx, c.addr, c.tlsCfg, ProductionQUICConfig())
	if err != nil {
		return fmt.Errorf("mcpquic: dial %s: %w", c.addr, err)
	}

	alpn := conn.ConnectionState().TLS.NegotiatedProtocol
	if alpn != ALPNProtocolMCP {
		conn.CloseWithError(ConnErrorUnsupportedALPN, "bad ALPN")
		return fmt.Errorf("%w: got %q", ErrUnsupportedALPN, alpn)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(ConnErrorProtocolViolation, "stream open failed")
		return fmt.Errorf("mcpquic: open stream: %w", err)
	}

	if err := SendMagicBytes(stream); err != nil {
		stream.Close()
		conn.CloseWithError(ConnErrorProtocolViolation, "magic bytes failed")
		return err
	}

	c.conn = conn
	c.stream = stream

	transport := &mcp.IOTransport{
		Reader: io.NopCloser(stream),
		Writer: stream,
	}
	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "domsig-quic-client",
		Version: "0.1.0",
	}, nil)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	session, err := mcpClient.Connect(connectCtx, transport, nil)
	if err != nil {
		c.closeTransport()
		return fmt.Errorf("mcpquic: mcp connect: %w", err)
	}
	c.session = session
	return nil
}

func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session.ListTools(ctx, nil)
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// CallJSON calls a tool and decodes its JSON text result into out. A tool
// error is returned as an error.
func (c *Client) CallJSON(ctx context.Context, name string, args map[string]any, out any) error {
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return fmt.Errorf("mcpquic: %s: %w", name, err)
	}
	if err := res.GetError(); err != nil {
		return fmt.Errorf("mcpquic: %s: %w", name, err)
	}
	if len(res.Content) == 0 {
		return fmt.Errorf("mcpquic: %s: empty result", name)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		return fmt.Errorf("mcpquic: %s: unexpected content %T", name, res.Content[0])
	}
	return json.Unmarshal([]byte(text.Text), out)
}

// Sign signs an HTML document on the remote domsig server. An empty root
// signs the whole document.
func (c *Client) Sign(ctx context.Context, html []byte, mode, root string) (*report.Report, error) {
	if len(html) == 0 {
		return nil, errors.New("mcpquic: sign: empty document")
	}
	args := map[string]any{"html": string(html), "mode": mode}
	if root != "" {
		args["root"] = root
	}
	var rep report.Report
	if err := c.CallJSON(ctx, "domsig_sign", args, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.session == nil {
		return ErrNotConnected
	}
	return c.session.Ping(ctx, nil)
}

func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.closeTransport()
}

func (c *Client) closeTransport() error {
	if c.stream != nil {
		c.stream.Close()
	}
	if c.conn != nil {
		c.conn.CloseWithError(ConnErrorNoError, "client closing")
	}
	return nil
}
