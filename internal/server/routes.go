// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/healthz", s.StatusHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/api/login", s.LoginHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}
