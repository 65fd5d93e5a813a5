package state

import (
	"fmt"
	"strconv"

	"github.com/pvconverge/pvconverge/pkg/config"
)

// fieldKind is the target type of a typed attribute.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
)

// typedFields lists, per category, the attributes that must be coerced away
// from their raw string form before reuse. Attributes absent from the table
// pass through as strings.
var typedFields = map[config.Category]map[string]fieldKind{
	config.CategoryVMs: {
		"vmid":   kindInt,
		"cores":  kindInt,
		"memory": kindInt,
		"onboot": kindBool,
		"agent":  kindBool,
	},
	config.CategoryContainers: {
		"vmid":         kindInt,
		"cores":        kindInt,
		"memory":       kindInt,
		"unprivileged": kindBool,
		"onboot":       kindBool,
	},
	config.CategoryStorage: {
		"shared":  kindBool,
		"maxsize": kindInt,
	},
	config.CategoryNetworks: {
		"vlan_aware": kindBool,
		"mtu":        kindInt,
	},
	config.CategoryFirewall: {
		"enabled": kindBool,
	},
	config.CategoryBackups: {
		"retention": kindInt,
		"enabled":   kindBool,
	},
	config.CategoryPools: {},
}

// requiredFields lists, per category, the attributes a snapshot entry
// cannot be reconstructed without.
var requiredFields = map[config.Category][]string{
	config.CategoryVMs:        {"vmid"},
	config.CategoryContainers: {"vmid"},
}

// CoerceEntry reconstructs a typed ResourceRecord from a snapshot entry's
// raw string attributes. Missing required fields or failed coercions return
// an error so the caller can skip that single entry.
func CoerceEntry(e Entry) (config.ResourceRecord, error) {
	for _, field := range requiredFields[e.Category] {
		if _, ok := e.RawAttributes[field]; !ok {
			return config.ResourceRecord{}, fmt.Errorf("entry %s/%s is missing required field %q", e.Category, e.Key, field)
		}
	}

	attrs := make(map[string]any, len(e.RawAttributes))
	kinds := typedFields[e.Category]
	for name, raw := range e.RawAttributes {
		switch kinds[name] {
		case kindInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return config.ResourceRecord{}, fmt.Errorf("entry %s/%s field %q: %q is not an integer", e.Category, e.Key, name, raw)
			}
			attrs[name] = n
		case kindBool:
			b, err := coerceBool(raw)
			if err != nil {
				return config.ResourceRecord{}, fmt.Errorf("entry %s/%s field %q: %w", e.Category, e.Key, name, err)
			}
			attrs[name] = b
		default:
			attrs[name] = raw
		}
	}

	return config.ResourceRecord{
		Category:   e.Category,
		Key:        e.Key,
		Enabled:    true,
		Attributes: attrs,
	}, nil
}

// coerceBool accepts the boolean spellings the platform emits: 0/1,
// true/false, yes/no.
func coerceBool(raw string) (bool, error) {
	switch raw {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not a boolean", raw)
	}
}
