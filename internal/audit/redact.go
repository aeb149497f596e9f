package audit

import (
	"encoding/json"
	"mime"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redacted replaces the value of every deny-listed field.
const Redacted = "[REDACTED]"

// deniedFields are compared after lower-casing and dropping '_' and '-'.
var deniedFields = map[string]struct{}{
	"password":        {},
	"currentpassword": {},
	"oldpassword":     {},
	"newpassword":     {},
	"confirmpassword": {},
	"passwordhash":    {},
	"token":           {},
	"accesstoken":     {},
	"refreshtoken":    {},
	"idtoken":         {},
	"secret":          {},
	"clientsecret":    {},
	"apikey":          {},
	"authorization":   {},
	"otp":             {},
	"pin":             {},
	"cvv":             {},
}

func normalizeField(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

// IsSensitiveField reports whether a field name is on the deny-list.
func IsSensitiveField(name string) bool {
	_, ok := deniedFields[normalizeField(name)]
	return ok
}

// Redact returns a copy of a decoded JSON value with deny-listed object
// fields replaced at any depth. Scalars are returned unchanged.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveField(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// MaxRawBody bounds a body kept as text because it could not be decoded.
const MaxRawBody = 2 << 10

// RedactBody decodes a captured request body according to its content type
// and redacts it. Text that does not decode, including malformed JSON, is
// kept as a masked string of at most MaxRawBody bytes. Binary bodies are
// dropped.
func RedactBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return redactText(body)
		}
		return RedactQuery(values)
	case mediaType == "" || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return redactText(body)
		}
		return Redact(decoded)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/xml", strings.HasSuffix(mediaType, "+xml"):
		return redactText(body)
	default:
		return nil
	}
}

// keyValue matches `"key": "value"`, `key=value` and `key: value` pairs.
var keyValue = regexp.MustCompile(`("?)([A-Za-z][A-Za-z0-9_\-]*)("?\s*[:=]\s*)("(?:[^"\\]|\\.)*"?|[^\s&,;{}\[\]"]+)`)

// redactText masks the values of deny-listed keys in free text and trims the
// result to MaxRawBody. Invalid UTF-8 is treated as binary and dropped.
func redactText(body []byte) any {
	if !utf8.Valid(body) {
		return nil
	}
	masked := keyValue.ReplaceAllStringFunc(string(body), func(m string) string {
		parts := keyValue.FindStringSubmatch(m)
		if !IsSensitiveField(parts[2]) {
			return m
		}
		value := Redacted
		if strings.HasPrefix(parts[4], `"`) {
			value = `"` + Redacted + `"`
		}
		return parts[1] + parts[2] + parts[3] + value
	})
	if len(masked) <= MaxRawBody {
		return masked
	}
	cut := MaxRawBody
	for cut > 0 && !utf8.RuneStart(masked[cut]) {
		cut--
	}
	return masked[:cut]
}

// RedactQuery copies query or form values, masking deny-listed keys.
func RedactQuery(values url.Values) map[string][]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string][]string, len(values))
	for k, vs := range values {
		if IsSensitiveField(k) {
			out[k] = []string{Redacted}
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
