package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Group settings are addressed by dotted paths relative to the group:
//
//	.                       whole group (read only)
//	enable                  bool
//	enable_query            bool
//	enable_check            bool
//	servers                 list (read only)
//	servers.<i>             one subscription (read only)
//	servers.<i>.<field>     name, host, port or type (read only)

func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return nil
	}
	return strings.Split(strings.Trim(path, "."), ".")
}

func readPath(g *Group, path string) (any, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return g.clone(), nil
	}

	switch segs[0] {
	case "enable", "enable_query", "enable_check":
		if len(segs) != 1 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
		}
		return *flagField(g, segs[0]), nil
	case "servers":
		return readServers(g, segs[1:], path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
}

func readServers(g *Group, segs []string, path string) (any, error) {
	if len(segs) == 0 {
		return g.clone().Servers, nil
	}
	i, err := strconv.Atoi(segs[0])
	if err != nil || i < 0 || i >= len(g.Servers) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	sub := g.Servers[i]
	if len(segs) == 1 {
		return sub, nil
	}
	if len(segs) > 2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	switch segs[1] {
	case "name":
		return sub.Name, nil
	case "host":
		return sub.Host, nil
	case "port":
		return sub.Port, nil
	case "type":
		return string(sub.Protocol), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
}

func writePath(g *Group, path string, raw json.RawMessage) error {
	segs := splitPath(path)
	if len(segs) == 1 {
		if field := flagField(g, segs[0]); field != nil {
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("%w: %s expects a boolean, got %s", ErrInvalidValue, segs[0], string(raw))
			}
			*field = v
			return nil
		}
	}

	// Paths that exist but are not flags are read only.
	if _, err := readPath(g, path); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q", ErrReadOnlyPath, path)
}

func flagField(g *Group, name string) *bool {
	switch name {
	case "enable":
		return &g.Enable
	case "enable_query":
		return &g.EnableQuery
	case "enable_check":
		return &g.EnableCheck
	default:
		return nil
	}
}
