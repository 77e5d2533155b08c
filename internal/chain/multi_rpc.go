package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MultiRPCClient rotates across several RPC endpoints, failing over after
// repeated errors on the active one.
type MultiRPCClient struct {
	clients       []*RPCClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiRPCClient(endpoints []string, failThreshold int, timeout time.Duration) (*MultiRPCClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*RPCClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewRPCClient(ep, timeout))
	}
	return &MultiRPCClient{
		clients:       clients,
		failThreshold: failThreshold,
	}, nil
}

func (m *MultiRPCClient) Balance(ctx context.Context, address, denom string) (int64, error) {
	var out int64
	err := m.withFailover(ctx, func(c *RPCClient) error {
		v, err := c.Balance(ctx, address, denom)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (m *MultiRPCClient) Stake(ctx context.Context, address string) (int64, error) {
	var out int64
	err := m.withFailover(ctx, func(c *RPCClient) error {
		v, err := c.Stake(ctx, address)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (m *MultiRPCClient) withFailover(ctx context.Context, call func(*RPCClient) error) error {
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		client, idx := m.currentClient()
		if err := call(client); err == nil {
			m.resetFailures(idx)
			return nil
		} else {
			lastErr = err
		}
		m.noteFailure(idx)
		if m.shouldRotate() || len(m.clients) > 1 {
			m.rotate()
		}
	}
	return lastErr
}

func (m *MultiRPCClient) currentClient() (*RPCClient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiRPCClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiRPCClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *MultiRPCClient) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

func (m *MultiRPCClient) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
