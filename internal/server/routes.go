package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	s.mux.HandleFunc("GET /feed", s.handleFeed)
	s.mux.HandleFunc("POST /feed/older", s.handleLoadOlder)
	s.mux.HandleFunc("GET /profile/{author}", s.handleProfile)
}
