package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	pkgerrors "github.com/c360/echopipe/errors"
	"github.com/c360/echopipe/health"
	"github.com/c360/echopipe/pipe"
)

// sizeBody is the PUT /v1/size request and GET/PUT /v1/size response.
type sizeBody struct {
	Capacity int `json:"capacity"`
}

// statusBody is the GET /v1/status response.
type statusBody struct {
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
	Buffered int  `json:"buffered"`
	Space    int  `json:"space"`
	EOF      bool `json:"eof"`
}

// writtenBody is the POST /v1/write response.
type writtenBody struct {
	Written int `json:"written"`
}

// tokenBody is the POST /v1/writer response.
type tokenBody struct {
	Token string `json:"token"`
}

// mutatingHandle opens the handle used for a single mutating request.
// Read-only deployments open a read handle so the core's permission
// check produces the 403.
func (g *Gateway) mutatingHandle() (*pipe.Handle, error) {
	if g.cfg.ReadOnly {
		return g.resource.Open(pipe.AccessRead)
	}
	return g.resource.Open(pipe.AccessWrite)
}

func (g *Gateway) handleGetSize(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, sizeBody{Capacity: g.resource.Capacity()})
}

func (g *Gateway) handlePutSize(w http.ResponseWriter, r *http.Request) {
	var body sizeBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&body); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h, err := g.mutatingHandle()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	defer h.Close()

	if err := h.Resize(body.Capacity); err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sizeBody{Capacity: g.resource.Capacity()})
}

func (g *Gateway) handleClear(w http.ResponseWriter, _ *http.Request) {
	h, err := g.mutatingHandle()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	defer h.Close()

	if err := h.Clear(); err != nil {
		g.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	var mask pipe.Ready
	switch r.URL.Query().Get("dir") {
	case "r":
		mask = pipe.Readable
	case "w":
		mask = pipe.Writable
	case "", "rw":
		mask = pipe.Readable | pipe.Writable
	default:
		g.writeError(w, http.StatusBadRequest, "dir must be r, w or rw")
		return
	}

	var ready pipe.Ready
	if boolParam(r, "wait") {
		var err error
		ready, err = g.resource.PollWait(r.Context(), mask)
		if err != nil {
			g.writeMappedError(w, err)
			return
		}
	} else {
		ready = g.resource.Poll(mask)
	}

	g.writeJSON(w, http.StatusOK, statusBody{
		Readable: ready.Has(pipe.Readable),
		Writable: ready.Has(pipe.Writable),
		Buffered: g.resource.Buffered(),
		Space:    g.resource.Space(),
		EOF:      g.resource.Writers() == 0,
	})
}

func (g *Gateway) handleRead(w http.ResponseWriter, r *http.Request) {
	max := defaultReadMax
	if s := r.URL.Query().Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			g.writeError(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		if n > maxRequestSize {
			n = maxRequestSize
		}
		max = n
	}

	h, err := g.resource.Open(pipe.AccessRead)
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	defer h.Close()
	h.SetNonblocking(!boolParam(r, "block"))

	buf := make([]byte, max)
	n, err := h.ReadContext(r.Context(), buf)
	if err == io.EOF {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		g.writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf[:n]); err != nil {
		g.logger.Warn("read response write failed", "error", err)
	}
}

func (g *Gateway) handleWrite(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	h, err := g.mutatingHandle()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	defer h.Close()
	h.SetNonblocking(!boolParam(r, "block"))

	n, err := h.WriteContext(r.Context(), body)
	if err != nil && n == 0 {
		g.writeMappedError(w, err)
		return
	}
	// A partial write is reported by count; the client compares it to
	// what it sent.
	g.writeJSON(w, http.StatusOK, writtenBody{Written: n})
}

func (g *Gateway) handleOpenWriter(w http.ResponseWriter, _ *http.Request) {
	if g.cfg.ReadOnly {
		g.writeMappedError(w, pkgerrors.ErrPermission)
		return
	}

	token, err := g.openSession()
	if err != nil {
		g.writeMappedError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, tokenBody{Token: token})
}

func (g *Gateway) handleCloseWriter(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		g.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := g.closeSession(token); err != nil {
		g.writeError(w, http.StatusNotFound, "unknown writer session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	st := health.FromResource("pipe", g.resource)
	if g.monitor != nil {
		g.monitor.Update("pipe", st)
		st = g.monitor.AggregateHealth("echod")
	}

	code := http.StatusOK
	if !st.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, st)
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrWouldBlock):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkgerrors.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrGone), errors.Is(err, pkgerrors.ErrClosed):
		return http.StatusGone
	case errors.Is(err, pkgerrors.ErrInterrupted):
		return http.StatusRequestTimeout
	case pkgerrors.IsInvalid(err):
		return http.StatusBadRequest
	case pkgerrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns a safe message for external clients. Internal
// details stay in the server log.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrWouldBlock):
		return "operation would block"
	case errors.Is(err, pkgerrors.ErrBusy):
		return "capacity below buffered data"
	case errors.Is(err, pkgerrors.ErrPermission):
		return "write capability required"
	case errors.Is(err, pkgerrors.ErrGone), errors.Is(err, pkgerrors.ErrClosed):
		return "resource is gone"
	case errors.Is(err, pkgerrors.ErrInterrupted):
		return "request cancelled while blocked"
	case pkgerrors.IsInvalid(err):
		return "invalid request"
	case pkgerrors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func (g *Gateway) writeMappedError(w http.ResponseWriter, err error) {
	g.logger.Debug("request failed", "error", err)
	g.writeError(w, httpStatus(err), errorMessage(err))
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	w.Write(data)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("response encode failed", "error", err)
	}
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
