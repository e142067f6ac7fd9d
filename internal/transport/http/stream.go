package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/pipeline"
)

// streamWriter is one push connection. Each write is bounded by the
// router's write timeout; a failed write ends that connection only.
type streamWriter interface {
	send(ev domain.Event) error
	heartbeat() error
}

// pump forwards subscription events until the client goes away, the
// subscription is released or a write fails.
func (r *Router) pump(sub *pipeline.Subscription, out streamWriter, gone <-chan struct{}) error {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Ready():
			for {
				ev, ok := sub.Next()
				if !ok {
					break
				}
				if err := out.send(ev); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := out.heartbeat(); err != nil {
				return err
			}
		case <-sub.Done():
			return pipeline.ErrSubscriptionClosed
		case <-gone:
			return nil
		}
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (s *sseWriter) deadline() {
	// not every writer supports deadlines (e.g. test recorders)
	_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
}

func (s *sseWriter) send(ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.deadline()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) heartbeat() error {
	s.deadline()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	vehicleID := req.PathValue("vehicleID")
	rc := http.NewResponseController(w)

	sub, err := r.dispatcher.Subscribe(vehicleID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer r.dispatcher.Unsubscribe(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := &sseWriter{w: w, rc: rc, timeout: r.writeTimeout}
	if err := rc.Flush(); err != nil {
		r.logger.Warn("sse flush unsupported", "error", err)
		return
	}
	if err := r.sendLatest(vehicleID, out); err != nil {
		return
	}

	if err := r.pump(sub, out, req.Context().Done()); err != nil && !errors.Is(err, pipeline.ErrSubscriptionClosed) {
		r.logger.Info("sse subscriber dropped", "vehicle_id", vehicleID, "error", err)
	}
}

// sendLatest primes a new subscriber with the current state, if any.
func (r *Router) sendLatest(vehicleID string, out streamWriter) error {
	snap, err := r.query.Latest(vehicleID)
	if err != nil {
		return nil
	}
	sample := snap.Sample
	return out.send(domain.Event{
		Kind:      domain.EventSample,
		VehicleID: vehicleID,
		Sample:    &sample,
		Alerts:    snap.Alerts,
	})
}

type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsWriter) send(ev domain.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteJSON(ev)
}

func (s *wsWriter) heartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.timeout))
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	vehicleID := req.PathValue("vehicleID")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, err := r.dispatcher.Subscribe(vehicleID)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(r.writeTimeout))
		return
	}
	defer r.dispatcher.Unsubscribe(sub)

	// clients only send control frames; a read error means they left
	readWait := 2 * r.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out := &wsWriter{conn: conn, timeout: r.writeTimeout}
	if err := r.sendLatest(vehicleID, out); err != nil {
		return
	}
	if err := r.pump(sub, out, gone); err != nil && !errors.Is(err, pipeline.ErrSubscriptionClosed) {
		r.logger.Info("websocket subscriber dropped", "vehicle_id", vehicleID, "error", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(r.writeTimeout))
}
