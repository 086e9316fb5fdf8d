package handler

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porpoises/clusterapp/server/compute"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func newHandler(t *testing.T, limit uint64) http.Handler {
	t.Helper()
	h, err := New(limit)
	require.NoError(t, err)
	return h
}

func TestHello(t *testing.T) {
	code, body := get(t, newHandler(t, 100), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Hello World!", body)
}

func TestCount(t *testing.T) {
	h := newHandler(t, 100)

	for path, want := range map[string]string{
		"/api/10":   "Final count is 55",
		"/api/0":    "Final count is 0",
		"/api/1":    "Final count is 1",
		"/api/100":  "Final count is 5050",
		"/api/101":  "Final count is 5050",
		"/api/1000": "Final count is 5050",
		"/api/-5":   "Final count is 0",
		"/api/+7":   "Final count is 28",
		// Out of int64 range saturates instead of being rejected.
		"/api/99999999999999999999":  "Final count is 5050",
		"/api/-99999999999999999999": "Final count is 0",
	} {
		code, body := get(t, h, path)
		assert.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, want, body, path)
	}
}

func TestCountRejectsNonNumeric(t *testing.T) {
	h := newHandler(t, 100)

	for _, path := range []string{"/api/abc", "/api/12abc", "/api/1.5", "/api/%20", "/api/0x10"} {
		code, body := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.Equal(t, "Bad request\n", body, path)
	}
}

func TestEmptyParamIsNotRouted(t *testing.T) {
	code, _ := get(t, newHandler(t, 100), "/api/")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCountAtDefaultLimitDoesNotWrap(t *testing.T) {
	if testing.Short() {
		t.Skip("sums five billion integers")
	}
	code, body := get(t, newHandler(t, 5000000000), "/api/9000000000")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Final count is 12500000002500000000", body)
}

func TestNewRejectsOverflowingLimit(t *testing.T) {
	_, err := New(compute.MaxLimit + 1)
	assert.Error(t, err)
}

func TestPanicDoesNotEscape(t *testing.T) {
	h := newHandler(t, 100).(*Handler)
	h.GET("/boom", func(http.ResponseWriter, *http.Request, httprouter.Params) {
		panic("boom")
	})

	code, _ := get(t, h, "/boom")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, body := get(t, h, "/api/10")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Final count is 55", body)
}

func TestPanicWithErrorValue(t *testing.T) {
	cause := fmt.Errorf("handler state corrupted")
	h := newHandler(t, 100).(*Handler)
	h.GET("/boom", func(http.ResponseWriter, *http.Request, httprouter.Params) {
		panic(cause)
	})

	code, body := get(t, h, "/boom")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error\n", body)

	assert.Same(t, cause, panicError(cause))
	assert.Error(t, panicError("boom"))
}

func TestParseN(t *testing.T) {
	n, err := parseN("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = parseN("")
	assert.Error(t, err)
	_, err = parseN("NaN")
	assert.Error(t, err)
}
