package audit

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/ids"
)

// MaxCapturedBody bounds how much of a request or response body is kept.
const MaxCapturedBody = 64 << 10

// Sink accepts finished records for persistence.
type Sink interface {
	Enqueue(ctx context.Context, rec Record) bool
}

// Capturer builds audit records for successful mutating requests.
type Capturer struct {
	sink Sink
	now  func() time.Time
}

// CapturerOption configures Capturer.
type CapturerOption func(*Capturer)

// WithCaptureClock overrides time source (useful for tests).
func WithCaptureClock(fn func() time.Time) CapturerOption {
	return func(c *Capturer) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewCapturer(sink Sink, opts ...CapturerOption) *Capturer {
	c := &Capturer{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Middleware audits POST, PUT, PATCH and DELETE requests that end with a
// status below 400. The record is handed to the sink after the handler has
// written the full response; the response itself is never altered.
func (c *Capturer) Middleware(desc Descriptor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || c.sink == nil || !Audited(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			reqBody, truncated := captureBody(r)
			observer := &recordObserver{
				capturer:  c,
				desc:      desc,
				req:       r,
				reqBody:   reqBody,
				truncated: truncated,
			}
			ic := NewInterceptor(w, observer, MaxCapturedBody)
			next.ServeHTTP(ic, r)
			ic.Finish()
		})
	}
}

// captureBody reads up to MaxCapturedBody bytes and puts them back in front
// of the unread remainder so the handler sees the original stream.
func captureBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	buf, _ := io.ReadAll(io.LimitReader(r.Body, MaxCapturedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if len(buf) > MaxCapturedBody {
		return nil, true
	}
	return buf, false
}

type recordObserver struct {
	capturer  *Capturer
	desc      Descriptor
	req       *http.Request
	reqBody   []byte
	truncated bool
	jsonResp  bool
}

func (o *recordObserver) BeforeSend(_ int, header http.Header) {
	o.jsonResp = strings.Contains(header.Get("Content-Type"), "json")
}

func (o *recordObserver) AfterSend(status int, body []byte) {
	if status >= http.StatusBadRequest {
		return
	}
	if !o.jsonResp {
		body = nil
	}
	rec := o.capturer.build(o.req, o.desc, status, o.reqBody, o.truncated, body)
	o.capturer.sink.Enqueue(o.req.Context(), rec)
}

func (c *Capturer) build(r *http.Request, desc Descriptor, status int, reqBody []byte, truncated bool, respBody []byte) Record {
	action, resourceType, module := DeriveAction(r.Method, r.URL.Path)
	if desc.Action != "" {
		action = desc.Action
	}
	if desc.ResourceType != "" {
		resourceType = desc.ResourceType
	}
	if desc.Module != "" {
		module = desc.Module
	}

	rec := Record{
		ID:           ids.New(),
		OccurredAt:   c.now().UTC().Truncate(time.Microsecond),
		ActorName:    Anonymous,
		ActorEmail:   Anonymous,
		Action:       action,
		Module:       module,
		ResourceType: resourceType,
		ResourceID:   ResourceID(r, desc, respBody),
		ClientIP:     ClientIP(r),
		UserAgent:    r.UserAgent(),
		Method:       r.Method,
		URL:          fullURL(r),
		StatusCode:   strconv.Itoa(status),
		RequestID:    RequestIDFromContext(r.Context()),
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		rec.ActorUserID = id.ID
		rec.ActorName = id.Name
		rec.ActorEmail = id.Email
	}
	rec.Snapshot = Snapshot{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  RedactQuery(r.URL.Query()),
	}
	if truncated {
		rec.Snapshot.Body = map[string]any{"truncated": true}
	} else {
		rec.Snapshot.Body = RedactBody(r.Header.Get("Content-Type"), reqBody)
	}
	return rec
}

// ClientIP returns the first X-Forwarded-For entry, else X-Real-IP, else the
// socket peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return PeerIP(r)
}

// PeerIP returns the socket peer address, ignoring forwarding headers.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(proto))
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
