// Package server wires HTTP handlers into a ServeMux for the chat relay
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes served by h.
func SetupRoutes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("/history", h.HistoryHandler)
	mux.HandleFunc("/autocomplete_ai", h.AutocompleteHandler)
	mux.HandleFunc("/analyze_users", h.AnalyzeUsersHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
