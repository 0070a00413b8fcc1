// Package ssh provides the SSH transport for remote hosts.
package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/ynhctl/ynhctl/pkg/transports"
)

// Client implements transports.Transport over a single SSH connection.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
}

// NewClient creates an SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection. On an already connected client it
// verifies the connection and reconnects only if it is dead.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheck(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &transports.TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errChan:
		return &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connChan:
		c.client = client
		c.isConnected = true

		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive()
		}

		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Close closes the SSH connection and releases all resources.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &transports.TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// Target describes the endpoint for logs and errors.
func (c *Client) Target() string {
	return c.config.User + "@" + c.config.Address()
}

// healthCheck verifies the connection is alive (lock must be held).
func (c *Client) healthCheck() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &transports.TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &transports.TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}
	return nil
}

// keepAlive sends periodic keep-alive messages to keep the connection alive.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	maxRetries := c.config.MaxKeepAliveRetries

	for range ticker.C {
		c.connMu.RLock()
		if !c.isConnected || c.client == nil {
			c.connMu.RUnlock()
			return
		}
		client := c.client
		c.connMu.RUnlock()

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= maxRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
		} else {
			retries = 0
		}
	}
}

// getClient returns the underlying SSH client for command and file sessions.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &transports.TransportError{
			Op:  "get-client",
			Err: fmt.Errorf("not connected"),
		}
	}
	return c.client, nil
}
