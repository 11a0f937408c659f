package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/domsig/idgen"
	"github.com/hazyhaar/domsig/kit"
)

// Listener serves the tools of one mcp.Server over QUIC. Each accepted
// connection carries a single MCP session on its first stream.
type Listener struct {
	ql     *quic.Listener
	srv    *mcp.Server
	logger *slog.Logger
	nextID idgen.Generator
}

// NewListener binds addr. tlsCfg must offer ALPNProtocolMCP.
func NewListener(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ql, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	logger.Info("mcpquic: listening", "addr", ql.Addr().String())
	return &Listener{
		ql:     ql,
		srv:    srv,
		logger: logger,
		nextID: idgen.Prefixed("quic_", idgen.UUIDv7()),
	}, nil
}

// Addr returns the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.ql.Addr() }

func (l *Listener) Close() error { return l.ql.Close() }

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ql.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("mcpquic: accept error", "error", err)
			continue
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.session(ctx, conn)
	}
}

// session runs the MCP session of conn and returns when it ends.
func (l *Listener) session(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := openStream(ctx, conn)
	if err != nil {
		l.logger.Warn("mcpquic: rejected connection", "remote", remote, "error", err)
		return
	}

	id := l.nextID()
	log := l.logger.With("session", id, "remote", remote)
	log.Info("mcpquic: session started")

	ctx = kit.WithRequestID(kit.WithTransport(ctx, "mcp_quic"), id)
	ss, err := l.srv.Connect(ctx, &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		log.Error("mcpquic: connect failed", "error", err)
		stream.Close()
		return
	}
	if err := ss.Wait(); err != nil {
		log.Debug("mcpquic: session error", "error", err)
	}
	log.Info("mcpquic: session ended")
}

// openStream accepts the first stream of conn and checks its magic prefix.
// conn is closed when either step fails.
func openStream(ctx context.Context, conn *quic.Conn) (*quic.Stream, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return nil, err
	}
	if err := ValidateMagicBytes(stream); err != nil {
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return nil, &ConnectionError{
			RemoteAddr: conn.RemoteAddr().String(),
			Code:       ConnErrorProtocolViolation,
			Err:        err,
		}
	}
	return stream, nil
}

// streamTransport is an mcp.Transport over one accepted stream. Connections
// it opens report the QUIC session ID.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := (&mcp.IOTransport{Reader: io.NopCloser(t.stream), Writer: t.stream}).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return idConn{Connection: conn, id: t.id}, nil
}

type idConn struct {
	mcp.Connection
	id string
}

func (c idConn) SessionID() string { return c.id }
