package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/controller/training"
)

// MessageTrain asks the server to train the project named by the message id.
const MessageTrain = "train"

// ClientMessage is a message sent by the editor over /ws.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// TrainSocket relays training runs over a WebSocket. Each train message runs
// to completion before the next message is read, so events of one run are
// never interleaved with another. A run outlives its socket: if the editor
// disconnects, training still finishes and the model is saved and activated.
func (h *Handler) TrainSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Websocket read from %s ended: %v", r.RemoteAddr, err)
			}
			return
		}

		switch msg.Type {
		case MessageTrain:
			var sendErr error
			h.ctrl.Train(context.WithoutCancel(r.Context()), msg.ID, training.EventFunc(func(ev training.Event) {
				if sendErr != nil {
					return
				}
				if sendErr = conn.WriteJSON(ev); sendErr != nil {
					log.Printf("Stopped relaying events for project %s at %s: %v", msg.ID, ev.Status, sendErr)
				}
			}))
		default:
			ev := training.Event{Status: constants.RunStatusFailed, Error: "unknown message type " + msg.Type}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
