package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"epochsync/internal/fetcher"
)

type endpointCaller interface {
	Caller
	Close()
}

// FallbackCaller tries a static list of equivalent RPC endpoints in order for every call.
// Clients are dialed on first use and kept for the life of the caller.
type FallbackCaller struct {
	endpoints []string
	timeout   time.Duration
	logger    *zap.Logger

	dial func(ctx context.Context, endpoint string) (endpointCaller, error)

	mu      sync.Mutex
	clients map[string]endpointCaller
}

// NewFallbackCaller returns a caller over endpoints; each attempt is bounded by timeout.
func NewFallbackCaller(endpoints []string, timeout time.Duration, logger *zap.Logger) *FallbackCaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCaller{
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger,
		dial: func(ctx context.Context, endpoint string) (endpointCaller, error) {
			return NewClient(ctx, endpoint)
		},
		clients: make(map[string]endpointCaller),
	}
}

// Call runs the contract call against the first endpoint that answers in time.
func (f *FallbackCaller) Call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	values, err := fetcher.FirstSuccess(ctx, f.logger.With(zap.String("method", method), zap.String("contract", contract.Hex())),
		f.endpoints, f.timeout,
		func(ctx context.Context, endpoint string) ([]any, error) {
			client, err := f.client(ctx, endpoint)
			if err != nil {
				return nil, err
			}
			return client.Call(ctx, contract, parsed, method, args...)
		})
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, contract.Hex(), err)
	}
	return values, nil
}

func (f *FallbackCaller) client(ctx context.Context, endpoint string) (endpointCaller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[endpoint]; ok {
		return c, nil
	}
	c, err := f.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	f.clients[endpoint] = c
	return c, nil
}

// Close closes every dialed client.
func (f *FallbackCaller) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for endpoint, c := range f.clients {
		c.Close()
		delete(f.clients, endpoint)
	}
}
