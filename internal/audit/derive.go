package audit

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"fleetdesk.org/internal/ids"
)

// Descriptor declares how a route is audited. Empty fields fall back to the
// path heuristics.
type Descriptor struct {
	Action       string
	ResourceType string
	Module       string
	// IDParam names the route parameter carrying the resource id.
	IDParam string
}

// knownIDParams are route parameter names tried after "id".
var knownIDParams = []string{
	"userId", "roleId", "permissionId", "departmentId", "businessUnitId",
	"vehicleId", "tripId", "cabServiceId", "driverId",
}

var verbs = map[string]string{
	http.MethodPost:   "CREATE",
	http.MethodPut:    "UPDATE",
	http.MethodPatch:  "UPDATE",
	http.MethodDelete: "DELETE",
}

// Audited reports whether requests with method change state.
func Audited(method string) bool {
	_, ok := verbs[method]
	return ok
}

// DeriveAction guesses action, resource type and module from the method and
// path. It never fails: unusual paths produce a generic METHOD_SEGMENT action.
func DeriveAction(method, path string) (action, resourceType, module string) {
	segments := pathSegments(path)
	module = moduleOf(segments)

	resource := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if !ids.LooksLikeID(segments[i]) {
			resource = segments[i]
			break
		}
	}
	if resource == "" {
		resource = "root"
	}
	resourceType = resourceName(resource)

	verb, ok := verbs[method]
	if !ok {
		last := "ROOT"
		if len(segments) > 0 {
			last = strings.ToUpper(strings.ReplaceAll(segments[len(segments)-1], "-", "_"))
		}
		return strings.ToUpper(method) + "_" + last, resourceType, module
	}
	return verb + "_" + resourceType, resourceType, module
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// moduleOf returns the first segment after an optional api/vN prefix.
func moduleOf(segments []string) string {
	i := 0
	if i < len(segments) && segments[i] == "api" {
		i++
	}
	if i < len(segments) && len(segments[i]) > 1 && segments[i][0] == 'v' && isDigits(segments[i][1:]) {
		i++
	}
	if i < len(segments) {
		return strings.ToLower(segments[i])
	}
	return "root"
}

func resourceName(segment string) string {
	name := strings.ToUpper(strings.ReplaceAll(segment, "-", "_"))
	if len(name) > 3 && strings.HasSuffix(name, "S") && !strings.HasSuffix(name, "SS") {
		name = strings.TrimSuffix(name, "S")
	}
	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ResourceID extracts the affected resource id: the descriptor's parameter,
// then "id", then the known id parameters, then data.id in the response,
// then the first data.<field>.id. It returns "" when nothing matches.
func ResourceID(r *http.Request, desc Descriptor, responseBody []byte) string {
	if desc.IDParam != "" {
		if v := r.PathValue(desc.IDParam); v != "" {
			return v
		}
	}
	if v := r.PathValue("id"); v != "" {
		return v
	}
	for _, name := range knownIDParams {
		if v := r.PathValue(name); v != "" {
			return v
		}
	}
	return idFromResponse(responseBody)
}

func idFromResponse(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return ""
	}
	if id := scalarID(envelope.Data["id"]); id != "" {
		return id
	}
	var nested []string
	for k := range envelope.Data {
		nested = append(nested, k)
	}
	// Deterministic choice when several nested objects carry ids.
	sort.Strings(nested)
	for _, k := range nested {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(envelope.Data[k], &obj); err != nil {
			continue
		}
		if id := scalarID(obj["id"]); id != "" {
			return id
		}
	}
	return ""
}

func scalarID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
