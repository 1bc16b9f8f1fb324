package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nasa-jpl/framestream/generichttp"
	"github.com/stretchr/testify/assert"
)

type holder struct{ rt generichttp.RouteTable }

func (h holder) RT() generichttp.RouteTable { return h.rt }

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestCheckBlocksWhenLocked(t *testing.T) {
	l := New()
	h := l.Check(http.HandlerFunc(ok))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cam/roi", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	l.Lock()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cam/roi", nil))
	assert.Equal(t, http.StatusLocked, w.Code)

	// the lock route itself is never protected
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cam/lock", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	l.Unlock()
	assert.False(t, l.Locked())
}

func TestInjectedRoutes(t *testing.T) {
	l := New()
	hd := holder{rt: generichttp.RouteTable{}}
	Inject(hd, l)

	set := hd.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}]
	get := hd.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}]

	w := httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": true}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, l.Locked())

	w = httptest.NewRecorder()
	get(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())

	w = httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, l.Locked())
}
