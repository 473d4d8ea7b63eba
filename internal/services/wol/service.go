// Package wol wakes a sleeping database host before a dump or restore.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/wol"
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	// Wake sends a magic packet and waits until addr (host:port of the
	// database) accepts TCP connections.
	Wake(ctx context.Context, cfg models.WakeConfig, addr string) (*models.WakeResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Dialer allows mocking the TCP reachability probe.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	dialer    Dialer
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		dialer:    &net.Dialer{Timeout: 3 * time.Second},
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer) *Impl {
	return &Impl{
		wolClient: wolClient,
		dialer:    dialer,
		logger:    logger,
	}
}

// Wake sends a WOL packet and polls the database port until it answers.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig, addr string) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}

	result.PacketSent = true

	s.logger.Info().
		Str("target", addr).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for database port to answer")

	if err := s.waitForTarget(ctx, cfg, addr); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}

	// Give the server a moment to finish starting up after the port opens.
	if cfg.StabilizeWait > 0 {
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Dur("duration", result.WaitDuration).
		Msg("database host is ready")

	return result, nil
}

func (s *Impl) waitForTarget(ctx context.Context, cfg models.WakeConfig, addr string) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s", addr)
		}

		conn, err := s.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		s.logger.Debug().Err(err).Msg("target not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
