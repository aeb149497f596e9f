package auth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoutePolicy overrides the permission a route requires, keyed by method and
// path pattern. A zero RoutePolicy overrides nothing.
type RoutePolicy struct {
	overrides map[string]string
}

type routePolicyFile struct {
	Routes []struct {
		Method     string `yaml:"method"`
		Path       string `yaml:"path"`
		Permission string `yaml:"permission"`
	} `yaml:"routes"`
}

// LoadRoutePolicy reads a YAML policy file. An empty path yields an empty policy.
func LoadRoutePolicy(path string) (RoutePolicy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return RoutePolicy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RoutePolicy{}, fmt.Errorf("auth: read route policy: %w", err)
	}
	return ParseRoutePolicy(data)
}

// ParseRoutePolicy decodes a policy document of the form
//
//	routes:
//	  - method: GET
//	    path: /api/v1/roles
//	    permission: roles.read
func ParseRoutePolicy(data []byte) (RoutePolicy, error) {
	var doc routePolicyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RoutePolicy{}, fmt.Errorf("auth: parse route policy: %w", err)
	}
	policy := RoutePolicy{overrides: make(map[string]string, len(doc.Routes))}
	for i, r := range doc.Routes {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		path := strings.TrimSpace(r.Path)
		if method == "" || !strings.HasPrefix(path, "/") {
			return RoutePolicy{}, fmt.Errorf("%w: route policy entry %d needs method and absolute path", ErrInvalidInput, i)
		}
		code, err := NormalizeCode(r.Permission)
		if err != nil {
			return RoutePolicy{}, fmt.Errorf("route policy entry %d: %w", i, err)
		}
		policy.overrides[policyKey(method, path)] = code
	}
	return policy, nil
}

// Permission returns the permission required for method and path, falling
// back to def when the policy has no entry.
func (p RoutePolicy) Permission(method, path, def string) string {
	if code, ok := p.overrides[policyKey(method, path)]; ok {
		return code
	}
	return def
}

// Len reports the number of overrides.
func (p RoutePolicy) Len() int { return len(p.overrides) }

func policyKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}
