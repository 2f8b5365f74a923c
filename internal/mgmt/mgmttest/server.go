// Package mgmttest provides an in-process fake of the cluster-management
// API. It understands session login, the XSRF token handshake and the
// disaster-recovery endpoints, records every call and can be told to fail.
//
// Typical use:
//
//	fake := mgmttest.NewServer("node-a", true)
//	srv := httptest.NewServer(fake)
//	defer srv.Close()
//
//	fake.FailNext(mgmt.ActivatePath, http.StatusInternalServerError)
package mgmttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Endpoint paths served by Server. They mirror the constants in package mgmt;
// mgmt imports nothing from here so the duplication keeps the fake free of
// the client it is testing.
const (
	LoginPath       = "/j_security_check"
	TokenPath       = "/dataservice/client/token"
	PausePath       = "/dataservice/disasterrecovery/pause"
	UnpausePath     = "/dataservice/disasterrecovery/unpause"
	ActivatePath    = "/dataservice/disasterrecovery/activate"
	ClusterInfoPath = "/dataservice/disasterrecovery/clusterInfo"
)

// DropConnection, queued with FailNext, makes the server hang up without a
// response so the client sees a transport failure.
const DropConnection = -1

// DefaultUsername and DefaultPassword are the credentials a new Server accepts.
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin"
)

// Call is one request the server handled.
type Call struct {
	Method string
	Path   string
	Status int
}

// Server is an http.Handler faking one node's management API.
type Server struct {
	mu       sync.Mutex
	hostname string
	peer     string
	username string
	password string
	primary  bool
	paused   bool
	sessions map[string]string // session id -> xsrf token
	failures map[string][]int
	calls    []Call
	mux      *http.ServeMux
}

// NewServer returns a fake for the node called hostname. primary is the role
// the node reports in clusterInfo until an activate call succeeds.
func NewServer(hostname string, primary bool) *Server {
	s := &Server{
		hostname: hostname,
		username: DefaultUsername,
		password: DefaultPassword,
		primary:  primary,
		sessions: make(map[string]string),
		failures: make(map[string][]int),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc(LoginPath, s.handleLogin)
	s.mux.HandleFunc(TokenPath, s.handleToken)
	s.mux.HandleFunc(PausePath, s.handleDR(func() { s.paused = true }))
	s.mux.HandleFunc(UnpausePath, s.handleDR(func() { s.paused = false }))
	s.mux.HandleFunc(ActivatePath, s.handleDR(func() { s.primary = true }))
	s.mux.HandleFunc(ClusterInfoPath, s.handleClusterInfo)
	return s
}

// SetCredentials changes the accepted username and password.
func (s *Server) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// SetPeer names the other node of the pair, reported by clusterInfo.
func (s *Server) SetPeer(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = hostname
}

// FailNext queues statuses for the next requests to path, consumed one per
// request. Use DropConnection to simulate a transport failure.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// Calls returns a copy of the request log in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Paths returns the paths of calls to the disaster-recovery endpoints, in
// order, omitting login and token traffic.
func (s *Server) Paths() []string {
	var out []string
	for _, c := range s.Calls() {
		switch c.Path {
		case LoginPath, TokenPath:
			continue
		}
		out = append(out, c.Path)
	}
	return out
}

// Primary reports whether this node currently believes it is primary.
func (s *Server) Primary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// SetPrimary overrides the node's own view of its role.
func (s *Server) SetPrimary(primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = primary
}

// Paused reports whether telemetry is currently paused.
func (s *Server) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.reply(w, r, http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.reply(w, r, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ok := r.PostForm.Get("j_username") == s.username && r.PostForm.Get("j_password") == s.password
	id := ""
	if ok {
		id = uuid.NewString()
		s.sessions[id] = ""
	}
	s.mu.Unlock()

	if !ok {
		s.reply(w, r, http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: id, Path: "/"})
	s.reply(w, r, http.StatusOK)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("JSESSIONID")
	if err != nil {
		s.reply(w, r, http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	_, known := s.sessions[c.Value]
	token := ""
	if known {
		token = uuid.NewString()
		s.sessions[c.Value] = token
	}
	s.mu.Unlock()

	if !known {
		s.reply(w, r, http.StatusUnauthorized)
		return
	}
	s.record(r, http.StatusOK)
	fmt.Fprint(w, token)
}

// handleDR authenticates a disaster-recovery POST, applies any queued
// failure and otherwise runs apply under the lock.
func (s *Server) handleDR(apply func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.reply(w, r, http.StatusMethodNotAllowed)
			return
		}
		if !s.authorized(r) {
			s.reply(w, r, http.StatusForbidden)
			return
		}
		if status, ok := s.nextFailure(r.URL.Path); ok {
			if status == DropConnection {
				s.record(r, DropConnection)
				hangUp(w)
				return
			}
			s.reply(w, r, status)
			return
		}

		s.mu.Lock()
		apply()
		s.mu.Unlock()
		s.record(r, http.StatusOK)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

func (s *Server) handleClusterInfo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.reply(w, r, http.StatusForbidden)
		return
	}
	if status, ok := s.nextFailure(r.URL.Path); ok {
		s.reply(w, r, status)
		return
	}

	type member struct {
		HostName string `json:"host-name"`
	}
	var info struct {
		Primary   []member `json:"primary"`
		Secondary []member `json:"secondary"`
	}

	s.mu.Lock()
	self := member{HostName: s.hostname}
	if s.primary {
		info.Primary = append(info.Primary, self)
	} else {
		info.Secondary = append(info.Secondary, self)
	}
	if s.peer != "" {
		peer := member{HostName: s.peer}
		if s.primary {
			info.Secondary = append(info.Secondary, peer)
		} else {
			info.Primary = append(info.Primary, peer)
		}
	}
	s.mu.Unlock()

	s.record(r, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"clusterInfo": info})
}

func (s *Server) authorized(r *http.Request) bool {
	c, err := r.Cookie("JSESSIONID")
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.sessions[c.Value]
	return ok && token != "" && r.Header.Get("X-XSRF-TOKEN") == token
}

func (s *Server) nextFailure(path string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.failures[path]
	if len(q) == 0 {
		return 0, false
	}
	s.failures[path] = q[1:]
	return q[0], true
}

func (s *Server) record(r *http.Request, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Status: status})
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, status int) {
	s.record(r, status)
	w.WriteHeader(status)
}

func hangUp(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mgmttest: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
