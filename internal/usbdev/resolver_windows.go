//go:build windows

package usbdev

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sys/windows/registry"
)

const usbEnumKey = `SYSTEM\CurrentControlSet\Enum`

// NewResolver returns the port resolver for the current platform. On Windows
// the device registry is consulted first since it also knows COM names of
// adapters the enumerator reports late.
func NewResolver(logger *slog.Logger) Resolver {
	return NewChainResolver(logger, &RegistryResolver{}, NewEnumeratorResolver())
}

// RegistryResolver reads PortName values of matching device instances under
// HKLM\SYSTEM\CurrentControlSet\Enum.
type RegistryResolver struct{}

func (r *RegistryResolver) Resolve(ctx context.Context, vendorID, productID string) ([]string, error) {
	pattern, err := regexp.Compile(fmt.Sprintf(`(?i)^VID_%s.PID_%s`, regexp.QuoteMeta(vendorID), regexp.QuoteMeta(productID)))
	if err != nil {
		return nil, fmt.Errorf("compile device pattern: %w", err)
	}

	root, err := registry.OpenKey(registry.LOCAL_MACHINE, usbEnumKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", usbEnumKey, err)
	}
	defer root.Close()

	buses, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return nil, fmt.Errorf("list device buses: %w", err)
	}

	var ports []string
	for _, bus := range buses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ports = append(ports, r.busPorts(root, bus, pattern)...)
	}

	return ports, nil
}

func (r *RegistryResolver) busPorts(root registry.Key, bus string, pattern *regexp.Regexp) []string {
	busKey, err := registry.OpenKey(root, bus, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil
	}
	defer busKey.Close()

	devices, err := busKey.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}

	var ports []string
	for _, device := range devices {
		if !pattern.MatchString(device) {
			continue
		}
		ports = append(ports, instancePorts(busKey, device)...)
	}

	return ports
}

func instancePorts(busKey registry.Key, device string) []string {
	deviceKey, err := registry.OpenKey(busKey, device, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil
	}
	defer deviceKey.Close()

	instances, err := deviceKey.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}

	var ports []string
	for _, instance := range instances {
		params, err := registry.OpenKey(deviceKey, instance+`\Device Parameters`, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		name, _, err := params.GetStringValue("PortName")
		_ = params.Close()
		if err != nil {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			ports = append(ports, name)
		}
	}

	return ports
}
