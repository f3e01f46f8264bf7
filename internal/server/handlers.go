package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"upload-ai/internal/domain"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/remote"
)

const defaultHistoryLimit = 20

type selectionResponse struct {
	Name       string `json:"name"`
	MediaType  string `json:"mediaType"`
	Size       int    `json:"size"`
	PreviewURL string `json:"previewUrl"`
}

type stateResponse struct {
	State     domain.PipelineState `json:"state"`
	Label     string               `json:"label"`
	Selection *selectionResponse   `json:"selection"`
}

type submitRequest struct {
	Prompt   string `json:"prompt"`
	PromptID string `json:"promptId"`
}

type submitResponse struct {
	VideoID    string `json:"videoId"`
	Superseded bool   `json:"superseded,omitempty"`
}

// handleSelection reads the multipart "file" field into a new selection.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "missing video file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "read video: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		jsonError(w, "video file is empty", http.StatusBadRequest)
		return
	}

	sel := domain.VideoSelection{
		Name:      filepath.Base(header.Filename),
		MediaType: uploadMediaType(header.Header.Get("Content-Type"), data),
		Data:      data,
	}
	ref, err := s.pipeline.SelectVideo(sel)
	if err != nil {
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	jsonResponse(w, selectionResponse{
		Name:       sel.Name,
		MediaType:  sel.MediaType,
		Size:       len(sel.Data),
		PreviewURL: ref,
	}, http.StatusCreated)
}

// handleSubmit runs the pipeline and answers with the remote video id once
// the run finishes.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if id := strings.TrimSpace(req.PromptID); id != "" {
		resolved, status, err := s.resolvePrompt(r.Context(), id)
		if err != nil {
			jsonError(w, err.Error(), status)
			return
		}
		prompt = resolved
	}

	// The run outlives a dropped client connection.
	videoID, err := s.pipeline.Submit(context.WithoutCancel(r.Context()), prompt)
	switch {
	case errors.Is(err, pipeline.ErrRunSuperseded):
		jsonResponse(w, submitResponse{VideoID: videoID, Superseded: true}, http.StatusConflict)
	case err != nil:
		jsonError(w, err.Error(), statusForError(err))
	default:
		jsonResponse(w, submitResponse{VideoID: videoID}, http.StatusOK)
	}
}

func (s *Server) resolvePrompt(ctx context.Context, id string) (string, int, error) {
	if s.prompts == nil {
		return "", http.StatusNotImplemented, errors.New("prompt source is not configured")
	}
	prompts, err := s.prompts.ListPrompts(ctx)
	if err != nil {
		return "", http.StatusBadGateway, err
	}
	found, ok := remote.FindPrompt(prompts, id)
	if !ok {
		return "", http.StatusNotFound, errors.New("unknown prompt id: " + id)
	}
	return found.Template, http.StatusOK, nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.pipeline.State()
	resp := stateResponse{State: state, Label: state.Label()}
	if sel, ref, ok := s.pipeline.Selection(); ok {
		resp.Selection = &selectionResponse{
			Name:       sel.Name,
			MediaType:  sel.MediaType,
			Size:       len(sel.Data),
			PreviewURL: ref,
		}
	}
	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseInt64Query(r, "since", 0)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	events := s.pipeline.Events(since)
	if events == nil {
		events = []pipeline.Event{}
	}
	jsonResponse(w, events, http.StatusOK)
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		jsonError(w, "prompt source is not configured", http.StatusNotImplemented)
		return
	}
	prompts, err := s.prompts.ListPrompts(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if prompts == nil {
		prompts = []domain.Prompt{}
	}
	jsonResponse(w, prompts, http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "run history is not configured", http.StatusNotImplemented)
		return
	}
	limit, err := parseInt64Query(r, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 {
		jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	runs, err := s.history.List(r.Context(), int(limit))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	jsonResponse(w, runs, http.StatusOK)
}

// statusForError maps pipeline errors onto HTTP statuses.
func statusForError(err error) int {
	var pipeErr *pipeline.PipelineError
	switch {
	case errors.Is(err, pipeline.ErrNoSelection):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, pipeline.ErrRunFinished):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &pipeErr):
		if pipeErr.Stage == domain.StateConverting {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func uploadMediaType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

func parseInt64Query(r *http.Request, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return value, nil
}

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResponse(w, map[string]string{"error": msg}, status)
}
