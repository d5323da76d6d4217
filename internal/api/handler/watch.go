package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/vista/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewWatchJobHandler returns the handler for GET /api/v1/jobs/{jobID}/watch. It upgrades to
// a WebSocket, sends the current record, then every change until the job is terminal or
// deleted.
func NewWatchJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		// subscribe before reading the snapshot so no change falls in between
		ch, unsubscribe, err := svc.Watch(id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer unsubscribe()

		job, err := svc.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "job_id", id, "error", err)
			return
		}
		defer conn.Close()

		first := events.Event{Type: events.JobUpdated, JobID: job.ID, Job: job}
		stream(conn, ch, &first, true)
	}
}

// NewWatchJobsHandler returns the handler for GET /api/v1/jobs/watch, which streams changes
// of every job until the client disconnects.
func NewWatchJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, unsubscribe, err := svc.Watch("")
		if err != nil {
			writeError(w, err)
			return
		}
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		stream(conn, ch, nil, false)
	}
}

// stream writes events to conn. All writes happen on the calling goroutine; a reader
// goroutine only consumes control frames and notices disconnects.
func stream(conn *websocket.Conn, ch <-chan events.Event, first *events.Event, single bool) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket closed", "error", err)
				}
				return
			}
		}
	}()

	send := func(e events.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			slog.Debug("websocket write failed", "job_id", e.JobID, "error", err)
			return false
		}
		return !(single && finished(e))
	}

	if first != nil && !send(*first) {
		closeNormally(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				closeNormally(conn)
				return
			}
			if !send(e) {
				closeNormally(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func finished(e events.Event) bool {
	return e.Type == events.JobDeleted || (e.Job != nil && e.Job.State.IsTerminal())
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

