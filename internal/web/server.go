package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"image-picker-go/internal/compressor"
	"image-picker-go/internal/config"
	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/source"
)

// uploadField is the multipart field carrying the image.
const uploadField = "image"

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	compressor *compressor.DefaultCompressor
	outputDir  string
	inFlight   int64
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

type CompressResponse struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int64  `json:"bytes"`
}

type ProbeResponse struct {
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Format            string `json:"format"`
	MimeType          string `json:"mime_type"`
	Orientation       string `json:"orientation"`
	OrientationSource string `json:"orientation_source"`
	SubsampleFactor   int    `json:"subsample_factor"`
	OutputWidth       int    `json:"output_width"`
	OutputHeight      int    `json:"output_height"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer creates a server that writes normalized uploads to outputDir.
func NewServer(cfg *config.Config, log *logrus.Logger, comp *compressor.DefaultCompressor, outputDir string) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		compressor: comp,
		outputDir:  outputDir,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/probe", s.handleProbe).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// Normalized outputs
	s.router.HandleFunc("/images/{name}", s.handleImage).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":             atomic.LoadInt64(&s.inFlight),
			"max_image_dimension": s.cfg.Picker.MaxImageDimension,
			"quality":             s.cfg.Picker.Quality,
			"statistics":          s.compressor.Statistics().Snapshot(),
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.compressor.Statistics()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"errors":   stats.GetErrorSummary(),
			"counters": stats.Snapshot(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	fh, mimeType, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	spec, err := s.specFromForm(r)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		s.writeError(w, "Failed to prepare output directory", http.StatusInternalServerError)
		return
	}

	handle := uuid.NewString()
	name := handle + ".jpg"
	outputPath := filepath.Join(s.outputDir, name)

	atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"handle":    handle,
		"filename":  fh.Filename,
		"mime_type": mimeType,
	})

	res := s.compressor.ProcessFromResolver(handle, outputPath, uploadOpener(fh), spec)
	if !res.Success {
		kind := imgerr.KindOf(res.Cause())
		s.broadcastWSMessage("compress_failed", map[string]interface{}{
			"handle": handle,
			"kind":   string(kind),
			"error":  res.Cause().Error(),
		})
		s.writeJSONStatus(w, statusForKind(kind), APIResponse{
			Success: false,
			Error:   "Failed to process image",
			Kind:    string(kind),
		})
		return
	}

	resp := CompressResponse{
		Name:   name,
		URL:    "/images/" + name,
		Width:  res.Width,
		Height: res.Height,
		Bytes:  res.Bytes,
	}
	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"handle": handle,
		"result": resp,
	})
	s.writeJSON(w, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	fh, mimeType, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	meta, err := s.compressor.Probe(source.NewResolverSource(fh.Filename, uploadOpener(fh)))
	if err != nil {
		kind := imgerr.KindOf(err)
		s.writeJSONStatus(w, statusForKind(kind), APIResponse{
			Success: false,
			Error:   "Failed to probe image",
			Kind:    string(kind),
		})
		return
	}

	maxDim := s.cfg.Picker.MaxImageDimension
	upright := meta.Bounds.Oriented(meta.Orientation)
	outW, outH := compressor.TargetSize(upright.Width, upright.Height, maxDim)

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: ProbeResponse{
			Width:             meta.Bounds.Width,
			Height:            meta.Bounds.Height,
			Format:            meta.Format,
			MimeType:          mimeType,
			Orientation:       meta.Orientation.String(),
			OrientationSource: meta.OrientationSource.String(),
			SubsampleFactor:   compressor.SubsampleFactor(meta.Bounds, meta.Orientation, maxDim),
			OutputWidth:       outW,
			OutputHeight:      outH,
		},
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".jpg") {
		s.writeError(w, "Invalid image name", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.outputDir, name)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// readUpload parses the multipart body and checks that the upload is an image.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*multipart.FileHeader, string, bool) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return nil, "", false
		}
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return nil, "", false
	}

	files := r.MultipartForm.File[uploadField]
	if len(files) == 0 {
		s.writeError(w, fmt.Sprintf("Missing %q file field", uploadField), http.StatusBadRequest)
		return nil, "", false
	}
	fh := files[0]

	f, err := fh.Open()
	if err != nil {
		s.writeError(w, "Failed to read upload", http.StatusBadRequest)
		return nil, "", false
	}
	mtype, err := mimetype.DetectReader(f)
	f.Close()
	if err != nil {
		s.writeError(w, "Failed to read upload", http.StatusBadRequest)
		return nil, "", false
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		s.writeError(w, fmt.Sprintf("Unsupported content type %s", mtype.String()), http.StatusUnsupportedMediaType)
		return nil, "", false
	}
	return fh, mtype.String(), true
}

func (s *Server) specFromForm(r *http.Request) (compressor.CompressionSpec, error) {
	spec := compressor.CompressionSpec{
		MaxDimension: s.cfg.Picker.MaxImageDimension,
		Quality:      s.cfg.Picker.Quality,
	}
	if v := r.FormValue("max_dimension"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, fmt.Errorf("invalid max_dimension: %s", v)
		}
		spec.MaxDimension = n
	}
	if v := r.FormValue("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, fmt.Errorf("invalid quality: %s", v)
		}
		spec.Quality = n
	}
	return spec, spec.Validate()
}

// uploadOpener reopens the stored multipart part on every call.
func uploadOpener(fh *multipart.FileHeader) source.OpenFunc {
	return func(string) (io.ReadCloser, error) {
		return fh.Open()
	}
}

func statusForKind(kind imgerr.Kind) int {
	switch kind {
	case imgerr.KindInvalidSpec:
		return http.StatusBadRequest
	case imgerr.KindUnreadableSource, imgerr.KindDecodeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes to a connection must not run concurrently.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSONStatus(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}
