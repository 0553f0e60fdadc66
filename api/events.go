package api

import (
	"github.com/gorilla/websocket"
	"github.com/the-lightning-land/lnshell/node"
	"net/http"
	"time"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// handleGetEvents streams every event the controller handles as
// {"type": ..., "event": ...} messages until the client goes away.
func (a *Api) handleGetEvents() http.HandlerFunc {
	upgrader := &websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		client := a.controller.SubscribeEvents()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			client.Cancel()
			a.log.Errorf("Could not upgrade to websocket: %v", err)
			return
		}

		// read pump
		go func() {
			defer client.Cancel()
			defer c.Close()

			c.SetReadLimit(512)
			c.SetReadDeadline(time.Now().Add(pongWait))
			c.SetPongHandler(func(string) error {
				c.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})

			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						a.log.Errorf("unexpected websocket closure: %v", err)
					}
					break
				}
			}
		}()

		// write pump
		go func() {
			defer c.Close()

			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()

			for {
				select {
				case event, ok := <-client.Events:
					c.SetWriteDeadline(time.Now().Add(writeWait))

					if !ok {
						c.WriteMessage(websocket.CloseMessage, []byte{})
						return
					}

					payload, err := node.EncodeEvent(event)
					if err != nil {
						a.log.Errorf("Could not encode event: %v", err)
						continue
					}

					err = c.WriteMessage(websocket.TextMessage, payload)
					if err != nil {
						a.log.Debugf("Could not write event: %v", err)
						return
					}
				case <-ticker.C:
					c.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()
	}
}
