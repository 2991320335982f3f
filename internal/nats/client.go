// Package nats provides the NATS connection and the cross-instance broadcast
// bridge. NATS is optional; a single-instance deployment runs without it.
package nats

import (
	"fmt"
	"time"

	natsio "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/config"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

// Client wraps the NATS connection with reconnect handling.
type Client struct {
	conn   *natsio.Conn
	logger *logger.Logger
}

// Connect establishes a NATS connection using the configured credentials.
func Connect(cfg *config.Config, log *logger.Logger) (*Client, error) {
	opts := []natsio.Option{
		natsio.Name("chat-relay"),
		natsio.MaxReconnects(-1),
		natsio.ReconnectWait(2 * time.Second),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		natsio.ReconnectHandler(func(nc *natsio.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		natsio.ClosedHandler(func(_ *natsio.Conn) {
			log.Info("nats connection closed")
		}),
	}

	if cfg.NATSToken != "" {
		opts = append(opts, natsio.Token(cfg.NATSToken))
	}
	if cfg.NATSCertFile != "" && cfg.NATSKeyFile != "" {
		opts = append(opts, natsio.ClientCert(cfg.NATSCertFile, cfg.NATSKeyFile))
	}
	if cfg.NATSCAFile != "" {
		opts = append(opts, natsio.RootCAs(cfg.NATSCAFile))
	}

	conn, err := natsio.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return &Client{conn: conn, logger: log}, nil
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *natsio.Conn {
	return c.conn
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("nats drain failed", zap.Error(err))
			c.conn.Close()
		}
	}
}
