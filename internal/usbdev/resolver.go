package usbdev

import (
	"context"
	"log/slog"

	"go.bug.st/serial/enumerator"
)

// Resolver maps a VID/PID pair to candidate serial port names.
type Resolver interface {
	Resolve(ctx context.Context, vendorID, productID string) ([]string, error)
}

// EnumeratorResolver lists ports currently reported by the OS enumerator.
type EnumeratorResolver struct {
	list ListFunc
}

func NewEnumeratorResolver() *EnumeratorResolver {
	return &EnumeratorResolver{list: enumerator.GetDetailedPortsList}
}

func (r *EnumeratorResolver) Resolve(ctx context.Context, vendorID, productID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return matchingPorts(r.list, ID{VendorID: vendorID, ProductID: productID})
}

// StaticResolver always returns the configured port, for setups where the
// port is pinned in config.
type StaticResolver struct {
	port string
}

func NewStaticResolver(port string) *StaticResolver {
	return &StaticResolver{port: port}
}

func (r *StaticResolver) Resolve(_ context.Context, _, _ string) ([]string, error) {
	if r.port == "" {
		return nil, nil
	}

	return []string{r.port}, nil
}

// ChainResolver concatenates several resolvers, keeping the first occurrence
// of each port name. A failing resolver is logged and skipped.
type ChainResolver struct {
	logger    *slog.Logger
	resolvers []Resolver
}

func NewChainResolver(logger *slog.Logger, resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{logger: logger, resolvers: resolvers}
}

func (r *ChainResolver) Resolve(ctx context.Context, vendorID, productID string) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	var lastErr error
	failed := 0

	for _, res := range r.resolvers {
		found, err := res.Resolve(ctx, vendorID, productID)
		if err != nil {
			r.logger.Warn("resolve candidate ports", "error", err)
			lastErr = err
			failed++
			continue
		}
		for _, name := range found {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	if failed > 0 && failed == len(r.resolvers) {
		return nil, lastErr
	}

	return names, nil
}
