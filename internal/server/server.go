package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/config"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Tokenizer is the subset of *tokenizer.Tokenizer the handler needs.
type Tokenizer interface {
	EncodeBatch(ctx context.Context, texts []string) ([]*tokenizer.Encoding, error)
	DecodeWith(ids []int, opts bpe.DecodeOptions) (string, error)
	Options() tokenizer.Options
	Info() tokenizer.Info
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   1 << 20,
		workers:        4,
		requestTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum total text size in bytes for POST /encode.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent encode/decode requests.
// Zero disables the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	tok  Tokenizer
	opts options
	sem  chan struct{} // semaphore for worker pool
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /info, POST /encode
// and POST /decode.
func NewHandler(tok Tokenizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		tok:  tok,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/info", h.handleInfo)
	mux.HandleFunc("/encode", h.handleEncode)
	mux.HandleFunc("/decode", h.handleDecode)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.tok.Info())
}

type encodeRequest struct {
	Texts []string `json:"texts"`
}

type encodeResult struct {
	IDs    []int             `json:"ids"`
	Tokens []tokenizer.Token `json:"tokens"`
}

type encodeResponse struct {
	Encodings []encodeResult `json:"encodings"`
}

type decodeRequest struct {
	IDs         []int `json:"ids"`
	SkipSpecial *bool `json:"skip_special,omitempty"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

type decodeErrorResponse struct {
	Error    string `json:"error"`
	ID       int    `json:"id"`
	Position int    `json:"position"`
	Offset   int    `json:"offset"`
}

// acquire takes a worker slot, honouring cancellation while waiting.
func (h *handler) acquire(ctx context.Context) (func(), bool) {
	if h.sem == nil {
		return func() {}, true
	}
	select {
	case h.sem <- struct{}{}:
		return func() { <-h.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// Request bodies are capped before decoding. The encode cap allows
// common JSON escaping of max_text_bytes of text; the decode cap allows
// one id of up to 16 JSON bytes per text byte.
const bodySlack = 4 << 10

func (h *handler) encodeBodyLimit() int64 { return 2*int64(h.opts.maxTextBytes) + bodySlack }

func (h *handler) decodeBodyLimit() int64 { return 16*int64(h.opts.maxTextBytes) + bodySlack }

// decodeBody reads a JSON body of at most limit bytes into v. It writes
// the error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}

	return true
}

func (h *handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req encodeRequest
	if !decodeBody(w, r, h.encodeBodyLimit(), &req) {
		return
	}

	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts field is required")
		return
	}

	total := 0
	for _, t := range req.Texts {
		total += len(t)
	}
	if total > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("texts exceed maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	release, ok := h.acquire(r.Context())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	encs, err := h.tok.EncodeBatch(ctx, req.Texts)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.log.WarnContext(r.Context(), "encode timed out",
				slog.Int("texts", len(req.Texts)),
				slog.Int("text_bytes", total),
				slog.Int64("duration_ms", durationMS),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusGatewayTimeout, "encode timed out")
			return
		}
		h.log.ErrorContext(r.Context(), "encode failed",
			slog.Int("texts", len(req.Texts)),
			slog.Int("text_bytes", total),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := encodeResponse{Encodings: make([]encodeResult, len(encs))}
	tokens := 0
	for i, enc := range encs {
		resp.Encodings[i] = encodeResult{IDs: enc.IDs(), Tokens: enc.Tokens}
		if resp.Encodings[i].Tokens == nil {
			resp.Encodings[i].Tokens = []tokenizer.Token{}
		}
		tokens += len(enc.Tokens)
	}

	h.log.InfoContext(r.Context(), "encode complete",
		slog.Int("texts", len(req.Texts)),
		slog.Int("text_bytes", total),
		slog.Int("tokens", tokens),
		slog.Int64("duration_ms", durationMS),
	)

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req decodeRequest
	if !decodeBody(w, r, h.decodeBodyLimit(), &req) {
		return
	}

	opts := h.tok.Options().Decoder
	if req.SkipSpecial != nil {
		opts.SkipSpecial = *req.SkipSpecial
	}

	release, ok := h.acquire(r.Context())
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return
	}
	defer release()

	text, err := h.tok.DecodeWith(req.IDs, opts)
	if err != nil {
		var de *bpe.DecodeError
		if errors.As(err, &de) {
			h.log.InfoContext(r.Context(), "decode rejected",
				slog.Int("ids", len(req.IDs)),
				slog.Int("id", de.ID),
				slog.Int("position", de.Position),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusUnprocessableEntity, decodeErrorResponse{
				Error: err.Error(), ID: de.ID, Position: de.Position, Offset: de.Offset,
			})
			return
		}
		h.log.ErrorContext(r.Context(), "decode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.DebugContext(r.Context(), "decode complete", slog.Int("ids", len(req.IDs)), slog.Int("text_bytes", len(text)))

	writeJSON(w, http.StatusOK, decodeResponse{Text: text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tok             Tokenizer
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, tok Tokenizer) *Server {
	return &Server{
		cfg:             cfg,
		tok:             tok,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if s.tok == nil {
		return errors.New("server: no tokenizer loaded")
	}

	h := NewHandler(s.tok,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(s.cfg.Server.RequestTimeoutDuration()),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
