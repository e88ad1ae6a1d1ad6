package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/folkastream/folka/logger"
)

// Getter returns the value of a key from a table, e.g. a view or a processor's
// group table.
type Getter func(key string) (interface{}, error)

// Server exposes attached tables for key lookups via HTTP.
type Server struct {
	log      logger.Logger
	basePath string

	m       sync.RWMutex
	sources map[string]Getter
}

// NewServer creates a server and attaches its routes to the router at
// basePath/{source}/{key}.
func NewServer(basePath string, router *mux.Router, opts ...Option) *Server {
	srv := &Server{
		log:      logger.Default(),
		basePath: basePath,
		sources:  make(map[string]Getter),
	}

	for _, opt := range opts {
		opt(srv)
	}

	sub := router.PathPrefix(basePath).Subrouter()
	sub.HandleFunc("/{source}/{key}", srv.keyHandler)
	sub.HandleFunc("/", srv.indexHandler)

	return srv
}

// Option configures the query server.
type Option func(s *Server)

// WithLogger replaces the default logger of the server.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// AttachSource makes the table accessible under the given name. It fails if
// the name is already in use.
func (s *Server) AttachSource(name string, getter Getter) error {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.sources[name]; exists {
		return fmt.Errorf("source with name %s is already attached", name)
	}
	s.sources[name] = getter
	return nil
}

func (s *Server) getter(name string) (Getter, bool) {
	s.m.RLock()
	defer s.m.RUnlock()
	getter, ok := s.sources[name]
	return getter, ok
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.m.RLock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	s.m.RUnlock()

	s.writeJSON(w, names)
}

func (s *Server) keyHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	getter, ok := s.getter(vars["source"])
	if !ok {
		http.Error(w, fmt.Sprintf("source %s not found", vars["source"]), http.StatusNotFound)
		return
	}

	value, err := getter(vars["key"])
	if err != nil {
		s.log.Printf("error getting key %s: %v", vars["key"], err)
		http.Error(w, fmt.Sprintf("error getting key %s: %v", vars["key"], err), http.StatusInternalServerError)
		return
	}
	if value == nil {
		http.Error(w, fmt.Sprintf("key %s not found", vars["key"]), http.StatusNotFound)
		return
	}

	s.writeJSON(w, value)
}

func (s *Server) writeJSON(w http.ResponseWriter, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, fmt.Sprintf("error encoding response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.log.Printf("error writing response: %v", err)
	}
}
