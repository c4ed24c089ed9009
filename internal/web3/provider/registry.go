package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"StableWatch-Chain/internal/config"
	"StableWatch-Chain/internal/web3"
	"StableWatch-Chain/internal/web3/ethereum"
)

// Registry manages chain clients keyed by network name (ethereum, bsc,
// polygon). The monitor resolves each watched token's client through it.
// Clients can be swapped at runtime via UpdateEndpoint, so lookups and
// swaps share a lock.
type Registry struct {
	mu           sync.RWMutex
	defaultChain string
	clients      map[string]web3.Client
	dial         func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)
}

func dialEVM(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: chain.RPCURL,
				WSURL:  chain.WSURL,
				Notes:  chain.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[strings.ToLower(name)] = client
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "ethereum", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["ethereum"] = client
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "ethereum"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := strings.ToLower(cfg.DefaultChain)
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, dial: dialEVM}, nil
}

// UpdateEndpoint re-dials the named network against a new RPC endpoint
// and swaps in the fresh client. 旧客户端在换入后关闭，换入失败时保留。
func (r *Registry) UpdateEndpoint(ctx context.Context, network, rpcURL string) error {
	if r == nil {
		return errors.New("未初始化的链客户端注册表")
	}
	name := strings.ToLower(strings.TrimSpace(network))
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return errors.New("RPC 端点不能为空")
	}
	r.mu.RLock()
	_, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("网络 %s 未在注册表中", network)
	}

	client, err := r.dial(ctx, ethereum.Config{Name: name, RPCURL: rpcURL})
	if err != nil {
		return fmt.Errorf("重连链 %s 失败: %w", name, err)
	}

	r.mu.Lock()
	old, ok := r.clients[name]
	if !ok {
		r.mu.Unlock()
		client.Close()
		return fmt.Errorf("网络 %s 未在注册表中", network)
	}
	r.clients[name] = client
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// NewStaticRegistry wraps pre-built clients, mainly for tests and tools.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) *Registry {
	normalized := make(map[string]web3.Client, len(clients))
	for name, client := range clients {
		normalized[strings.ToLower(name)] = client
	}
	return &Registry{defaultChain: strings.ToLower(defaultChain), clients: normalized, dial: dialEVM}
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by network name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[strings.ToLower(name)]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered network names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
