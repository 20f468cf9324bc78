package server

import (
	"bytes"
	"log"
	"net/http"

	"nlmirror/internal/command"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS bridges the command protocol: each text message is one request
// line and is answered by one text message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade error: %v", err)
		return
	}
	defer ws.Close()

	id := uuid.New().String()
	log.Printf("command %s: websocket from %s", id, r.RemoteAddr)
	ws.SetReadLimit(command.MaxLineSize)

	var buf bytes.Buffer
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("command %s: websocket read: %v", id, err)
			}
			return
		}
		resp := s.cfg.Commands.Handle(msg)
		if resp.Error != "" {
			log.Printf("command %s: %s", id, resp.Error)
		}
		buf.Reset()
		if err := command.Encode(&buf, resp); err != nil {
			log.Printf("command %s: encode: %v", id, err)
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
			log.Printf("command %s: websocket write: %v", id, err)
			return
		}
	}
}
