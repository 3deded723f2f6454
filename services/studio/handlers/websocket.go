// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
	"github.com/plotforge/gridstudio/services/studio/engine"
	"github.com/plotforge/gridstudio/services/studio/observability"
	"github.com/plotforge/gridstudio/services/studio/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const writeTimeout = 10 * time.Second

// ExperimentEvents streams an experiment's progress over a WebSocket.
//
// The first message is always a snapshot of current state; live events
// follow in publish order. Delivery is at-least-once: an event may also
// be reflected in the snapshot, and counters are absolute so the client
// converges either way. The stream closes after a terminal event or when
// the client goes away; a dropped observer never affects the run.
func ExperimentEvents(orch *engine.Orchestrator, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		exp, err := store.LoadExperiment(c.Request.Context(), id)
		if err != nil {
			respondStoreError(c, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade websocket", "experiment_id", id, "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Progress observer connected", "experiment_id", id)
		if m := observability.DefaultMetrics; m != nil {
			m.Observers.Inc()
			defer m.Observers.Dec()
		}

		// Subscribe before sending anything: the snapshot returned here
		// is guaranteed current with respect to the live stream.
		snap, sub := orch.Events().Subscribe(id, engine.SnapshotOf(exp))
		defer orch.Events().Unsubscribe(id, sub)

		if err := writeEvent(ws, datatypes.Event{
			Type:         datatypes.EventSnapshot,
			ExperimentID: id,
			Timestamp:    time.Now(),
			Snapshot:     &snap,
		}); err != nil {
			return
		}
		// A terminal snapshot is the whole story; no live events follow.
		if snap.Status.Terminal() {
			return
		}

		// Reader goroutine: the client never sends application data, but
		// reading is how gorilla surfaces close frames.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := writeEvent(ws, ev); err != nil {
					slog.Info("Progress observer disconnected", "experiment_id", id)
					return
				}
				if isTerminalEvent(ev.Type) {
					return
				}
			case <-clientGone:
				slog.Info("Progress observer disconnected", "experiment_id", id)
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev datatypes.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(ev)
}

func isTerminalEvent(t datatypes.EventType) bool {
	switch t {
	case datatypes.EventExperimentCompleted,
		datatypes.EventExperimentFailed,
		datatypes.EventExperimentCancelled:
		return true
	}
	return false
}
