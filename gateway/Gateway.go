package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/logger"
)

const (
	FETCH_FAILED = "Failed to fetch from backend"
	POST_FAILED  = "Failed to post to backend"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Server forwards the dashboard API to the backend origin so that the backend never has to be
// exposed on its own.
type Server struct {
	backend    string
	httpClient *http.Client
	router     *mux.Router
}

func NewServer(backend string, timeout time.Duration) *Server {
	s := &Server{
		backend:    strings.TrimSuffix(backend, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/{path:.*}", s.forwardGet).Methods("GET")
	s.router.HandleFunc("/api/{path:.*}", s.forwardPost).Methods("POST")
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:    address,
		Handler: s.router,
	}

	errc := make(chan error, 1)
	go func() {
		logger.InfoLogger().Printf("Gateway listening on %s, forwarding to %s", address, s.backend)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "gateway stopped")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

/*
Endpoint: /api/{path}
Usage: forwards a read to the backend, query string included
Method: GET
Response: the backend JSON body and status, or 500 {"error": "Failed to fetch from backend"}
*/
func (s *Server) forwardGet(writer http.ResponseWriter, request *http.Request) {
	target := s.backend + "/api/" + mux.Vars(request)["path"]
	if request.URL.RawQuery != "" {
		target += "?" + request.URL.RawQuery
	}

	forwarded, err := http.NewRequestWithContext(request.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(writer, FETCH_FAILED, err)
		return
	}
	s.relay(writer, forwarded, FETCH_FAILED)
}

/*
Endpoint: /api/{path}
Usage: forwards a command to the backend with its JSON body
Method: POST
Response: the backend JSON body and status, or 500 {"error": "Failed to post to backend"}
*/
func (s *Server) forwardPost(writer http.ResponseWriter, request *http.Request) {
	target := s.backend + "/api/" + mux.Vars(request)["path"]

	reqBody, err := io.ReadAll(request.Body)
	if err != nil {
		writeError(writer, POST_FAILED, err)
		return
	}
	var body io.Reader
	if len(reqBody) > 0 {
		body = bytes.NewReader(reqBody)
	}

	forwarded, err := http.NewRequestWithContext(request.Context(), http.MethodPost, target, body)
	if err != nil {
		writeError(writer, POST_FAILED, err)
		return
	}
	forwarded.Header.Set("Content-Type", "application/json")
	s.relay(writer, forwarded, POST_FAILED)
}

// relay answers with the backend status and body. A body that is not JSON counts as a failure.
func (s *Server) relay(writer http.ResponseWriter, forwarded *http.Request, failure string) {
	response, err := s.httpClient.Do(forwarded)
	if err != nil {
		writeError(writer, failure, err)
		return
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		writeError(writer, failure, err)
		return
	}
	if !json.Valid(respBody) {
		writeError(writer, failure, errors.Errorf("%s answered %d with a non JSON body", forwarded.URL.Path, response.StatusCode))
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(response.StatusCode)
	_, _ = writer.Write(respBody)
}

func writeError(writer http.ResponseWriter, message string, cause error) {
	logger.ErrorLogger().Printf("Gateway: %s: %v", message, cause)
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(writer).Encode(errorResponse{Error: message})
}
