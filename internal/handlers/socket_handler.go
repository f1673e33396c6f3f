package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"taskboard/internal/models"
	"taskboard/internal/realtime"
	"taskboard/internal/services"
)

// Authenticator resolves the person behind an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

type frameSender interface {
	Send(payload []byte) error
}

type SocketHandler struct {
	routes   map[string]models.Handler
	registry *realtime.Registry
	auth     Authenticator
	onFatal  func(error)
}

// NewSocketHandler serves the socket protocol. onFatal is called when a
// route panics; the process is expected to shut down.
func NewSocketHandler(routes map[string]models.Handler, registry *realtime.Registry, auth Authenticator, onFatal func(error)) *SocketHandler {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &SocketHandler{routes: routes, registry: registry, auth: auth, onFatal: onFatal}
}

// Stream upgrades an authenticated request to the socket protocol.
// @Summary      WebSocket
// @Description  Кадры {id, route, data}; ответы и изменения задач приходят по тому же сокету
// @Tags         Realtime
// @Security     BearerAuth
// @Param        token  query  string  false  "токен, если нельзя передать заголовок"
// @Success      101
// @Failure      401
// @Router       /ws [get]
func (h *SocketHandler) Stream(c *gin.Context) {
	personID, err := h.auth.Authenticate(c.Request)
	if err != nil {
		glog.Warningf("[ws] rejected upgrade from %s: %v", c.ClientIP(), err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := realtime.Upgrade(c.Writer, c.Request)
	if err != nil {
		glog.Warningf("[ws] upgrade for person %d: %v", personID, err)
		return
	}
	h.registry.Register(conn, personID)
	glog.V(1).Infof("[ws] conn %s opened for person %d", conn.ID(), personID)
	defer func() {
		if h.registry.Remove(conn.ID()) {
			_ = conn.Close()
		}
		glog.V(1).Infof("[ws] conn %s closed for person %d", conn.ID(), personID)
	}()

	// requests already read keep running after the client goes away
	ctx := context.WithoutCancel(c.Request.Context())
	host := c.Request.Host
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if realtime.IsUnexpectedClose(err) {
				glog.Warningf("[ws] conn %s (person %d): %v", conn.ID(), personID, err)
			}
			return
		}
		h.handleFrame(ctx, conn, personID, host, frame)
	}
}

// handleFrame serves one inbound frame to completion.
func (h *SocketHandler) handleFrame(ctx context.Context, conn frameSender, personID int64, host string, frame []byte) {
	if string(bytes.TrimSpace(frame)) == "ping" {
		if err := conn.Send([]byte("pong")); err != nil {
			glog.V(1).Infof("[ws] pong to person %d: %v", personID, err)
		}
		return
	}

	req, err := decodeRequest(frame)
	if err != nil {
		glog.Errorf("[ws] failed to parse message from person %d: %v: %.250s", personID, err, frame)
		return
	}
	handler, ok := h.routes[req.Route]
	if !ok {
		glog.Warningf("[ws] no handler for route %q from person %d", req.Route, personID)
		return
	}
	req.ActorID = personID
	req.Host = host

	result, err := h.run(ctx, handler, req)
	var payload []byte
	if err != nil {
		if services.IsValidation(err) {
			glog.V(1).Infof("[ws] %s from person %d rejected: %v", req.Route, personID, err)
		} else {
			glog.Errorf("[ws] %s from person %d: %v", req.Route, personID, err)
		}
		payload, err = json.Marshal(errorResponse(req, err))
	} else {
		payload, err = json.Marshal(successResponse(req, result))
	}
	if err != nil {
		glog.Errorf("[ws] encode response to %s: %v", req.Route, err)
		return
	}
	if err := conn.Send(payload); err != nil {
		glog.V(1).Infof("[ws] reply to person %d: %v", personID, err)
	}
}

func (h *SocketHandler) run(ctx context.Context, handler models.Handler, req *models.Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error in %s", req.Route)
			glog.Errorf("[ws] panic in %s: %v\n%s", req.Route, rec, debug.Stack())
			h.onFatal(fmt.Errorf("panic in %s: %v", req.Route, rec))
		}
	}()
	return handler(ctx, req)
}

func decodeRequest(frame []byte) (*models.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, err
	}

	req := &models.Request{ID: fields["id"], Params: map[string]any{}}
	if raw, ok := fields["route"]; ok {
		if err := json.Unmarshal(raw, &req.Route); err != nil {
			return nil, fmt.Errorf("route: %w", err)
		}
	}
	if raw, ok := fields["data"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.Data); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		req.DataKeys = keys
	}
	for name, raw := range fields {
		switch name {
		case "id", "route", "data":
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		req.Params[name] = v
	}
	if id, ok := models.ToInt64(req.Params["item_id"]); ok {
		req.ItemID = id
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return req, nil
}

// objectKeys lists the keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if tok != json.Delim('{') {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// successResponse reflects id and route back. A result carrying its own
// "data" (plus extras like total/offset) is merged in as is.
func successResponse(req *models.Request, result any) map[string]any {
	res := map[string]any{"id": req.ID, "route": req.Route}
	if m, ok := result.(map[string]any); ok && m["data"] != nil {
		for k, v := range m {
			res[k] = v
		}
		return res
	}
	res["data"] = result
	return res
}

func errorResponse(req *models.Request, err error) map[string]any {
	return map[string]any{
		"id":      req.ID,
		"route":   req.Route,
		"success": false,
		"err":     gin.H{"message": err.Error()},
	}
}
