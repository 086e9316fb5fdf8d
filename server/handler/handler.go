package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"cirello.io/errors"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/trace"

	"github.com/porpoises/clusterapp/server/compute"
)

const greeting = "Hello World!"

type Handler struct {
	*httprouter.Router

	limit uint64
}

func New(limit uint64) (http.Handler, error) {
	if err := compute.ValidateLimit(limit); err != nil {
		return nil, err
	}

	router := httprouter.New()

	h := &Handler{
		Router: router,

		limit: limit,
	}

	router.PanicHandler = h.recoverPanic

	router.GET("/", h.hello)
	router.GET("/api/:n", h.count)

	return h, nil
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tr := trace.New("handler", r.URL.Path)
	defer tr.Finish()

	writeText(w, greeting)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tr := trace.New("handler", r.URL.Path)
	defer tr.Finish()

	n, err := parseN(ps.ByName("n"))
	if err != nil {
		tr.LazyPrintf("rejected: %v", err)
		tr.SetError()
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	count := compute.Sum(n, h.limit)
	tr.LazyPrintf("n=%d limit=%d count=%d", n, h.limit, count)

	writeText(w, fmt.Sprintf("Final count is %d", count))
}

// parseN reads a base-10 integer. Values outside the int64 range saturate so
// that they still clamp to the right end of [0, limit]; anything that is not a
// number is an error.
func parseN(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return n, nil
	}
	if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
		// ParseInt already returns the saturated bound on ErrRange.
		return n, nil
	}
	return 0, err
}

// panicError turns a recovered value into an error, keeping it as-is when it
// already is one.
func panicError(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.E(v)
}

func (h *Handler) recoverPanic(w http.ResponseWriter, r *http.Request, v interface{}) {
	err := panicError(v)

	tr := trace.New("handler", r.URL.Path)
	tr.LazyPrintf("panic: %v", err)
	tr.SetError()
	tr.Finish()

	glog.Errorf("Recovered panic serving %s: %v", r.URL.Path, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
