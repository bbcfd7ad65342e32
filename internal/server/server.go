package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/menta2k/cropbox"
	"github.com/menta2k/cropbox/internal/logging"
	"github.com/menta2k/cropbox/pkg/engine"
	"github.com/menta2k/cropbox/pkg/session"
	"github.com/menta2k/cropbox/pkg/types"
)

const (
	// maxUploadSize bounds POST /api/image bodies
	maxUploadSize = 32 << 20
	decodeTimeout = 30 * time.Second
)

// Server exposes one crop session to a browser front end
type Server struct {
	addr     string
	box      *cropbox.Cropbox
	log      *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a server for box
func NewServer(addr string, box *cropbox.Cropbox, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		addr: addr,
		box:  box,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/image", s.handleImage).Methods("POST")
	api.HandleFunc("/zoom/{direction}", s.handleZoom).Methods("POST")
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/autoframe", s.handleAutoFrame).Methods("POST")
	api.HandleFunc("/results", s.handleResults).Methods("GET")
	api.HandleFunc("/rasters/{index:[0-9]+}", s.handleRaster).Methods("GET")
	api.HandleFunc("/preview.png", s.handlePreview).Methods("GET")

	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return r
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// sessionState is the JSON body describing the widget
type sessionState struct {
	session.Snapshot
	Config      session.Config `json:"config"`
	ActiveIndex int            `json:"activeIndex"`
	Dragging    bool           `json:"dragging"`
	ResultField string         `json:"resultField"`
}

func (s *Server) state() sessionState {
	return sessionState{
		Snapshot:    s.box.Snapshot(),
		Config:      s.box.Config(),
		ActiveIndex: s.box.ActiveIndex(),
		Dragging:    s.box.Dragging(),
		ResultField: s.box.ResultField(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

// handleImage accepts a multipart "image" file, or the image bytes or a data
// URL as the raw body, and waits for the decode to finish.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("missing image file: %w", err))
			return
		}
		defer file.Close()
		src = file
	}

	if err := s.box.LoadReader(r.Context(), src); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), decodeTimeout)
	defer cancel()
	if err := s.box.WaitReady(ctx); err != nil {
		s.log.Warn("image not usable", "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mux.Vars(r)["direction"] {
	case "in":
		err = s.box.ZoomIn()
	case "out":
		err = s.box.ZoomOut()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown zoom direction %q", mux.Vars(r)["direction"]))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

// captureResponse adds the raster to a capture
type captureResponse struct {
	*session.Capture
	DataURL string `json:"dataUrl"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	capture, err := s.box.Capture()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if capture == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{Capture: capture, DataURL: capture.Artifact.DataURL()})
}

func (s *Server) handleAutoFrame(w http.ResponseWriter, r *http.Request) {
	if err := s.box.AutoFrame(r.Context()); err != nil {
		s.log.Error("auto-frame failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.box.Results()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []*types.CropResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRaster(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	art, err := s.box.Raster(index)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", art.Format.MediaType())
	w.Write(art.Data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	art, err := s.box.PreviewArtifact()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", art.Format.MediaType())
	w.Header().Set("Cache-Control", "no-store")
	w.Write(art.Data)
}

// pointerMessage is a pointer event sent over the websocket
type pointerMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// pointerReply answers every pointer message
type pointerReply struct {
	Background *types.Placement `json:"background,omitempty"`
	Dragging   bool             `json:"dragging"`
	Error      string           `json:"error,omitempty"`
}

// handleWebSocket streams pointer events into the session. Replies are
// written from the reading goroutine only.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)

	dragging := false
	defer func() {
		// a dropped connection must not leave a drag running
		if dragging {
			s.box.Pointer(engine.PointerEvent{Kind: engine.PointerUp})
		}
	}()

	for {
		var msg pointerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket closed", "error", err)
			}
			return
		}

		kind, err := engine.ParsePointerKind(msg.Type)
		if err != nil {
			if err := conn.WriteJSON(pointerReply{Error: err.Error()}); err != nil {
				return
			}
			continue
		}

		bg := s.box.Pointer(engine.PointerEvent{Kind: kind, X: msg.X, Y: msg.Y})
		dragging = s.box.Dragging()
		if err := conn.WriteJSON(pointerReply{Background: bg, Dragging: dragging}); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cropbox.ErrNoImage), errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
