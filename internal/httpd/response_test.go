package httpd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/ierr"
)

func TestRenderInternalErrorMapsKindToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ierr.NotFound("missing"), http.StatusNotFound},
		{"malformed input", ierr.MalformedInput("bad"), http.StatusUnprocessableEntity},
		{"conflict", ierr.Conflict("cas failed"), http.StatusConflict},
		{"permission", ierr.Permission("denied"), http.StatusForbidden},
		{"capacity", ierr.Capacity("too big"), http.StatusRequestEntityTooLarge},
		{"timeout", ierr.Timeout("slow"), http.StatusGatewayTimeout},
		{"transient", ierr.Transient("retry"), http.StatusServiceUnavailable},
		{"corruption", ierr.Corruption("bitrot"), http.StatusInternalServerError},
		{"fatal", ierr.Fatal("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			renderInternalError(w, c.err)
			assert.Equal(t, c.want, w.Code)

			var body ErrorCode
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, c.err.Error(), body.Message)
		})
	}
}

func TestResponseWriterTracksStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := NewResponseWriter(rec, r)

	assert.Equal(t, http.StatusOK, w.StatusCode())
	w.WriteHeader(http.StatusAccepted)
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, w.StatusCode())
	assert.EqualValues(t, 5, w.Written())
}

func TestRemoteAddressPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", remoteAddress(r))

	r2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	r2.RemoteAddr = "10.0.0.1:5000"
	assert.Equal(t, "10.0.0.1", remoteAddress(r2))
}
