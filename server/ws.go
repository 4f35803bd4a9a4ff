package server

import (
	"net/http"

	"dm-chat/transport"
)

// handleWS upgrades the request and hands the socket to a fresh
// session. Authentication happens in-band via the first auth frame,
// not at upgrade time, so the endpoint itself is public.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	conn := transport.NewConnection(s.baseCtx, sock, s.connectionBufferSize, s.writeTimeout, s.log)
	session := NewSession(s.log, s.tokens, s.registry, s.presence, s.relay, conn)
	conn.Run(session.HandleFrame, session.Teardown)
}
