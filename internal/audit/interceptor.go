package audit

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// ResponseObserver is notified around response emission. BeforeSend runs
// once, just before the status line is written. AfterSend runs once after
// the handler returned, with the final status and the captured body prefix.
type ResponseObserver interface {
	BeforeSend(status int, header http.Header)
	AfterSend(status int, body []byte)
}

// Interceptor is a transparent http.ResponseWriter: the client receives the
// same status and bytes, while a bounded copy of the body is kept for the
// observer.
type Interceptor struct {
	http.ResponseWriter
	observer    ResponseObserver
	limit       int
	status      int
	wroteHeader bool
	body        []byte
	finished    bool
}

// NewInterceptor wraps w. At most limit body bytes are retained.
func NewInterceptor(w http.ResponseWriter, observer ResponseObserver, limit int) *Interceptor {
	return &Interceptor{ResponseWriter: w, observer: observer, limit: limit, status: http.StatusOK}
}

func (i *Interceptor) WriteHeader(code int) {
	if i.wroteHeader {
		i.ResponseWriter.WriteHeader(code)
		return
	}
	// 1xx responses are informational and do not fix the final status.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		i.ResponseWriter.WriteHeader(code)
		return
	}
	i.wroteHeader = true
	i.status = code
	if i.observer != nil {
		i.observer.BeforeSend(code, i.ResponseWriter.Header())
	}
	i.ResponseWriter.WriteHeader(code)
}

func (i *Interceptor) Write(p []byte) (int, error) {
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
	if room := i.limit - len(i.body); room > 0 {
		n := len(p)
		if n > room {
			n = room
		}
		i.body = append(i.body, p[:n]...)
	}
	return i.ResponseWriter.Write(p)
}

// Status returns the status sent to the client (200 if none was written).
func (i *Interceptor) Status() int { return i.status }

// Body returns the captured body prefix.
func (i *Interceptor) Body() []byte { return i.body }

// Finish notifies the observer that the response is complete. Later calls
// are no-ops.
func (i *Interceptor) Finish() {
	if i.finished {
		return
	}
	i.finished = true
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
	if i.observer != nil {
		i.observer.AfterSend(i.status, i.body)
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (i *Interceptor) Unwrap() http.ResponseWriter { return i.ResponseWriter }

func (i *Interceptor) Flush() {
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
	if f, ok := i.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (i *Interceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := i.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("audit: underlying writer does not support hijacking")
	}
	return h.Hijack()
}
