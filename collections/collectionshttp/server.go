// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package collectionshttp exposes a collections.Endpoint over HTTP.
package collectionshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/authorization"
	"storj.io/collections/collections"
)

// Error is the default collectionshttp errs class.
var Error = errs.Class("collectionshttp")

// Config configures the HTTP server.
type Config struct {
	Address         string        `help:"address to listen on for collection requests" default:"127.0.0.1:10053"`
	ShutdownTimeout time.Duration `help:"how long to wait for in-flight requests on shutdown" default:"10s"`
}

// CredentialHeader carries the decimal user id of the caller.
const CredentialHeader = "Authorization"

// WriteRequest is the body of a write.
type WriteRequest struct {
	Value []byte   `json:"value"`
	Tags  [][]byte `json:"tags,omitempty"`
}

// FindRequest is the body of a find.
type FindRequest struct {
	Tags [][]byte `json:"tags"`
}

// ValueResponse is returned for successful requests.
type ValueResponse struct {
	Value [][]byte `json:"value"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the category and code pair of a collections.Status.
type ErrorBody struct {
	Code    [2]int `json:"code"`
	Message string `json:"message"`
}

// Server serves collection requests.
type Server struct {
	log      *zap.Logger
	endpoint *collections.Endpoint
	config   Config

	listener net.Listener
	server   *http.Server
	handler  http.Handler
}

// New creates a server for endpoint that accepts connections on listener.
func New(log *zap.Logger, endpoint *collections.Endpoint, listener net.Listener, config Config) *Server {
	s := &Server{
		log:      log,
		endpoint: endpoint,
		config:   config,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/collections/{collection}/keys/{key:.*}", s.handleRead).Methods(http.MethodGet)
	router.HandleFunc("/v1/collections/{collection}/keys/{key:.*}", s.handleWrite).Methods(http.MethodPut)
	router.HandleFunc("/v1/collections/{collection}/keys/{key:.*}", s.handleRemove).Methods(http.MethodDelete)
	router.HandleFunc("/v1/collections/{collection}/find", s.handleFind).Methods(http.MethodPost)

	s.handler = router
	s.server = &http.Server{
		Handler:  router,
		ErrorLog: zap.NewStdLog(log),
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run serves requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) (err error) {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("serving collections", zap.Stringer("address", s.listener.Addr()))
		errc <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = s.server.Shutdown(shutdownCtx)
	<-errc
	return Error.Wrap(err)
}

// Close closes the server and its listener immediately.
func (s *Server) Close() error {
	err := s.server.Close()
	if lnErr := s.listener.Close(); lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
		err = errs.Combine(err, lnErr)
	}
	return Error.Wrap(err)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, s.endpoint.Handle(r.Context(), collections.Request{
		Op:         authorization.OpRead,
		Collection: vars["collection"],
		Key:        vars["key"],
		Credential: r.Header.Get(CredentialHeader),
	}))
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body WriteRequest
	if !s.decode(w, r, &body) {
		return
	}

	vars := mux.Vars(r)
	s.respond(w, s.endpoint.Handle(r.Context(), collections.Request{
		Op:         authorization.OpWrite,
		Collection: vars["collection"],
		Key:        vars["key"],
		Value:      body.Value,
		Tags:       body.Tags,
		Credential: r.Header.Get(CredentialHeader),
	}))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, s.endpoint.Handle(r.Context(), collections.Request{
		Op:         authorization.OpRemove,
		Collection: vars["collection"],
		Key:        vars["key"],
		Credential: r.Header.Get(CredentialHeader),
	}))
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var body FindRequest
	if !s.decode(w, r, &body) {
		return
	}

	s.respond(w, s.endpoint.Handle(r.Context(), collections.Request{
		Op:         authorization.OpFind,
		Collection: mux.Vars(r)["collection"],
		Tags:       body.Tags,
		Credential: r.Header.Get(CredentialHeader),
	}))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, body interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		s.log.Debug("invalid request body", zap.Error(err))
		status := collections.StatusInvalidArgument
		s.respond(w, collections.Outcome{Err: &status})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, outcome collections.Outcome) {
	if outcome.OK() {
		values := outcome.Values
		if values == nil {
			values = [][]byte{}
		}
		s.json(w, http.StatusOK, ValueResponse{Value: values})
		return
	}

	s.json(w, httpStatus(*outcome.Err), ErrorResponse{Error: ErrorBody{
		Code:    [2]int{outcome.Err.Category, outcome.Err.Code},
		Message: outcome.Err.Message,
	}})
}

func (s *Server) json(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("failed to write response", zap.Error(err))
	}
}

func httpStatus(status collections.Status) int {
	switch status {
	case collections.StatusPermissionDenied:
		return http.StatusForbidden
	case collections.StatusMalformedIdentity:
		return http.StatusUnauthorized
	case collections.StatusInvalidArgument, collections.StatusInvalidFraming:
		return http.StatusBadRequest
	case collections.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
