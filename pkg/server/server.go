/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
	"github.com/Juice-Labs/session-proxy/pkg/task"
)

const shutdownTimeout = 5 * time.Second

var (
	ErrInvalidPort = errors.New("server: address does not contain a valid port")
)

type Endpoint struct {
	Methods []string
	Path    string
	Handler http.Handler
}

type Server struct {
	address string

	root      *mux.Router
	handler   http.Handler
	tlsConfig *tls.Config

	listener  net.Listener
	endpoints []Endpoint
}

// NewServer prepares a server for address (host:port, port 0 picks a free
// one). Browsers on allowedOrigins may read the endpoints; localhost is
// always allowed.
func NewServer(address string, tlsConfig *tls.Config, allowedOrigins ...string) (*Server, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, ErrInvalidPort.Wrap(err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, ErrInvalidPort
	}

	cors := cors.New(cors.Options{
		AllowedOrigins: append([]string{"http://localhost", "http://127.0.0.1"}, allowedOrigins...),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodOptions,
		},

		AllowedHeaders: []string{
			"*",
		},
	})

	root := mux.NewRouter().StrictSlash(true)
	root.Use(logger.Middleware)

	server := &Server{
		address:   address,
		root:      root,
		handler:   cors.Handler(root),
		tlsConfig: tlsConfig,
	}

	server.AddEndpointFunc("GET", "/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return server, nil
}

// Listen binds the address so Addr reports the real port before Run.
func (server *Server) Listen() error {
	if server.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", server.address)
	if err != nil {
		return err
	}

	if server.tlsConfig != nil {
		listener = tls.NewListener(listener, server.tlsConfig)
	}

	server.listener = listener
	return nil
}

func (server *Server) Addr() string {
	if server.listener != nil {
		return server.listener.Addr().String()
	}

	return server.address
}

func (server *Server) AddEndpointFunc(method string, path string, fn http.HandlerFunc) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: fn,
	})
}

func (server *Server) AddEndpointHandler(method string, path string, handler http.Handler) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: handler,
	})
}

func (server *Server) AddEndpoint(endpoint Endpoint) {
	server.endpoints = append(server.endpoints, endpoint)
}

// Run serves until the group is cancelled, then shuts down gracefully.
func (server *Server) Run(group task.Group) error {
	if err := server.Listen(); err != nil {
		return err
	}

	for _, endpoint := range server.endpoints {
		server.root.Methods(endpoint.Methods...).Path(endpoint.Path).Handler(endpoint.Handler)
	}

	httpServer := http.Server{
		BaseContext: func(_ net.Listener) context.Context {
			return group.Ctx()
		},
		Handler:           server.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("serving status on %s", server.Addr())

	group.GoFn("HTTP Listen", func(group task.Group) error {
		err := httpServer.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	group.GoFn("HTTP Shutdown", func(group task.Group) error {
		<-group.Ctx().Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(ctx)
	})

	return nil
}
