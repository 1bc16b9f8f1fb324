// Package locker holds a manual lock for a camera's HTTP routes.  While it
// is engaged, requests answer 423 Locked.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/nasa-jpl/framestream/generichttp"
)

// Inject registers GET and POST /lock on the route table of other
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a non-blocking lock flag.  Paths containing any of Exempt are
// served even while it is engaged.
type Locker struct {
	mu      sync.RWMutex
	engaged bool

	Exempt []string
}

// New returns an unlocked Locker that exempts the lock route itself
func New() *Locker {
	return &Locker{Exempt: []string{"lock"}}
}

// Lock engages the lock
func (l *Locker) Lock() {
	l.set(true)
}

// Unlock releases the lock
func (l *Locker) Unlock() {
	l.set(false)
}

func (l *Locker) set(b bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engaged = b
}

// Locked reports whether the lock is engaged
func (l *Locker) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.engaged
}

// Check is middleware answering 423 on non-exempt paths while engaged
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && !l.exempt(r.URL.Path) {
			http.Error(w, "camera is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) exempt(path string) bool {
	for _, frag := range l.Exempt {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

// HTTPSet engages or releases the lock from a {"bool": b} body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	var b generichttp.BoolT
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	l.set(b.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGet answers {"bool": locked}
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
