// Package server exposes a loader over HTTP so a remote viewer can request
// slice images, headers, rendered previews and metadata modules.
//
//	GET /image?id=<address>                   slice pixels and photometry as JSON
//	GET /header?id=<address>&rangeRead=<bool> compound slice metadata as JSON
//	GET /metadata/{module}?id=<address>       one metadata module, 404 if absent
//	GET /render?id=<address>                  windowed slice as 16-bit PNG
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"mprslicer/internal/models"
	"mprslicer/pkg/loader"
	"mprslicer/pkg/logging"
	"mprslicer/pkg/visualization"
)

const shutdownTimeout = 5 * time.Second

// Server serves one loader.
type Server struct {
	loader    *loader.Loader
	rangeRead bool
	handler   http.Handler
}

// New creates a server for l. Cross-origin requests are allowed from
// corsOrigins; an empty list allows any origin. Header requests without a
// rangeRead parameter use rangeRead.
func New(l *loader.Loader, corsOrigins []string, rangeRead bool) *Server {
	s := &Server{loader: l, rangeRead: rangeRead}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /image", s.imageHandler)
	mux.HandleFunc("GET /header", s.headerHandler)
	mux.HandleFunc("GET /metadata/{module}", s.metadataHandler)
	mux.HandleFunc("GET /render", s.renderHandler)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(mux)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on address until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Infof("Web server listening at %s ...", address)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logging.Infof("Shutting down web server at %s", address)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	img, err := s.loader.LoadImage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, img)
}

func (s *Server) headerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	rangeRead := s.rangeRead
	if v := r.URL.Query().Get("rangeRead"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, r, "rangeRead must be a boolean, got %q", v)
			return
		}
		rangeRead = b
	}

	md, err := s.loader.LoadHeader(r.Context(), id, rangeRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, md)
}

func (s *Server) metadataHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	module := r.PathValue("module")
	mod, found := s.loader.Provider()(module, id)
	if !found {
		http.Error(w, fmt.Sprintf("no %s metadata for %s", module, id), http.StatusNotFound)
		return
	}
	writeJSON(w, r, mod)
}

func (s *Server) renderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	img, err := s.loader.LoadImage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-type", "image/png")
	if err := png.Encode(w, visualization.Render(img)); err != nil {
		logging.Errorf("unable to write PNG for %s: %v", id, err)
	}
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, r, "missing id query parameter")
		return "", false
	}
	return id, true
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logging.Warningf("%s %s: %s", r.Method, r.URL, msg)
	http.Error(w, msg, http.StatusBadRequest)
}

// writeError maps the error taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		parseErr    *models.ParseError
		acqErr      *models.AcquisitionError
		metaErr     *models.MetadataError
		resampleErr *models.ResamplingError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &parseErr):
		status = http.StatusBadRequest
	case errors.As(err, &resampleErr), errors.As(err, &metaErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &acqErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		logging.Errorf("%s %s: %v", r.Method, r.URL, err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("unable to write JSON for %s: %v", r.URL, err)
	}
}
