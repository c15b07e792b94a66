package httpd

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/antgroup/hugescm/internal/ierr"
)

// ErrorCode is the JSON body every failed request gets, grounded on
// pkg/serve/protocol.ErrorCode's {code, message} shape.
type ErrorCode struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorCode) Error() string { return e.Message }

// ResponseWriter shadows http.ResponseWriter to track the status code and
// byte count logResponse needs, mirroring pkg/serve/httpserver.ResponseWriter.
type ResponseWriter struct {
	http.ResponseWriter
	written    int64
	statusCode int
	remoteAddr string
}

func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK, remoteAddr: remoteAddress(r)}
}

func (w *ResponseWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.written += int64(n)
	return n, err
}

func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriter) StatusCode() int    { return w.statusCode }
func (w *ResponseWriter) Written() int64     { return w.written }
func (w *ResponseWriter) RemoteAddr() string { return w.remoteAddr }

// trackedReader counts bytes received off the request body for the access
// log, mirroring pkg/serve/httpserver's trackedReader.
type trackedReader struct {
	rc       io.ReadCloser
	received int64
}

func newTrackedReader(rc io.ReadCloser) *trackedReader {
	return &trackedReader{rc: rc}
}

func (r *trackedReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.received += int64(n)
	return n, err
}

func (r *trackedReader) Close() error { return r.rc.Close() }

func remoteAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if addr := strings.TrimSpace(strings.Split(xff, ",")[0]); addr != "" {
			return addr
		}
	}
	if addr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); addr != "" {
		return addr
	}
	addr, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	return addr
}

// logResponse writes one access-log line per request, grounded on
// pkg/serve/httpserver.logResponse's status-bucketed log-level split
// (errors for 4xx/5xx and 404, info otherwise).
func logResponse(w *ResponseWriter, r *http.Request, tr *trackedReader, spent time.Duration) {
	status := w.StatusCode()
	fields := logrus.Fields{
		"remote":   w.RemoteAddr(),
		"method":   r.Method,
		"uri":      r.RequestURI,
		"status":   status,
		"received": tr.received,
		"written":  w.Written(),
		"spent":    spent,
	}
	if status >= http.StatusBadRequest {
		logrus.WithFields(fields).Error("request failed")
		return
	}
	logrus.WithFields(fields).Info("request")
}

func renderError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", jsonMIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(&ErrorCode{Code: code, Message: message})
}

func renderErrorf(w http.ResponseWriter, code int, format string, args ...any) {
	renderError(w, code, fmt.Sprintf(format, args...))
}

// renderInternalError maps an ierr.Kind to an HTTP status and writes the
// JSON error body, grounded on pkg/serve/httpserver.renderErrorRaw's
// switch-on-error-sentinel shape but dispatching on this system's Kind
// enum instead of per-package sentinel errors.
func renderInternalError(w http.ResponseWriter, err error) {
	switch ierr.KindOf(err) {
	case ierr.KindNotFound:
		renderError(w, http.StatusNotFound, err.Error())
	case ierr.KindMalformedInput:
		renderError(w, http.StatusUnprocessableEntity, err.Error())
	case ierr.KindConflict:
		renderError(w, http.StatusConflict, err.Error())
	case ierr.KindPermission:
		renderError(w, http.StatusForbidden, err.Error())
	case ierr.KindCapacity:
		renderError(w, http.StatusRequestEntityTooLarge, err.Error())
	case ierr.KindTimeout:
		renderError(w, http.StatusGatewayTimeout, err.Error())
	case ierr.KindTransient:
		renderError(w, http.StatusServiceUnavailable, err.Error())
	case ierr.KindCorruption, ierr.KindFatal:
		renderError(w, http.StatusInternalServerError, err.Error())
	default:
		renderError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", jsonMIME)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("httpd: encode response: %v", err)
	}
}
