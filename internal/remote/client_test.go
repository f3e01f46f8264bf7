package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"upload-ai/internal/domain"
)

// TestUploadAudioSendsMultipartFile checks field, filename and part type.
func TestUploadAudioSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		if header.Filename != "audio.mp3" {
			t.Errorf("filename = %q, want audio.mp3", header.Filename)
		}
		if got := header.Header.Get("Content-Type"); got != "audio/mpeg" {
			t.Errorf("part content type = %q, want audio/mpeg", got)
		}
		if string(data) != "ID3" {
			t.Errorf("data = %q", data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"video":{"id":"abc123","name":"audio.mp3"}}`))
	}))
	defer srv.Close()

	client := New(srv.URL+"/", 5*time.Second)
	id, err := client.UploadAudio(context.Background(), domain.AudioArtifact{
		Name:      "audio.mp3",
		MediaType: domain.AudioMediaType,
		Data:      []byte("ID3"),
	})
	if err != nil {
		t.Fatalf("UploadAudio() error = %v", err)
	}
	if id != "abc123" {
		t.Fatalf("id = %q, want abc123", id)
	}
}

// TestUploadAudioFailures maps bad responses to UploadError.
func TestUploadAudioFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		},
		"empty id": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"video":{}}`))
		},
	}

	for name, handler := range cases {
		srv := httptest.NewServer(handler)
		client := New(srv.URL, 5*time.Second)
		_, err := client.UploadAudio(context.Background(), domain.AudioArtifact{Data: []byte("x")})
		srv.Close()

		var uploadErr *UploadError
		if !errors.As(err, &uploadErr) {
			t.Fatalf("%s: error = %v, want *UploadError", name, err)
		}
	}
}

// TestUploadAudioTransportFailure wraps connection errors.
func TestUploadAudioTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	_, err := New(baseURL, time.Second).UploadAudio(context.Background(), domain.AudioArtifact{Data: []byte("x")})

	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) || uploadErr.StatusCode != 0 || uploadErr.Err == nil {
		t.Fatalf("error = %#v, want transport UploadError", err)
	}
}

// TestRequestTranscriptionPostsPrompt checks path escaping and JSON body.
func TestRequestTranscriptionPostsPrompt(t *testing.T) {
	var gotPath, gotPrompt, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotType = r.Header.Get("Content-Type")
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gotPrompt = body.Prompt
		w.Write([]byte(`{"transcription":"ignored"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, 5*time.Second)
	if err := client.RequestTranscription(context.Background(), "a b", "meeting, notes"); err != nil {
		t.Fatalf("RequestTranscription() error = %v", err)
	}
	if gotPath != "/videos/a%20b/transcription" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotPrompt != "meeting, notes" {
		t.Fatalf("prompt = %q", gotPrompt)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}
}

// TestRequestTranscriptionRejected maps non-2xx to TranscriptionRequestError.
func TestRequestTranscriptionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown video", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, 5*time.Second).RequestTranscription(context.Background(), "abc123", "")

	var reqErr *TranscriptionRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want *TranscriptionRequestError", err)
	}
	if reqErr.StatusCode != http.StatusNotFound || reqErr.VideoID != "abc123" {
		t.Fatalf("error = %+v", reqErr)
	}
}

// TestListPromptsAndFind decodes prompts and looks one up by id.
func TestListPromptsAndFind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"p1","title":"YouTube title","template":"Generate a title"},{"id":"p2","title":"Description","template":"Describe"}]`))
	}))
	defer srv.Close()

	prompts, err := New(srv.URL, 5*time.Second).ListPrompts(context.Background())
	if err != nil {
		t.Fatalf("ListPrompts() error = %v", err)
	}
	if len(prompts) != 2 {
		t.Fatalf("prompts = %+v", prompts)
	}

	got, ok := FindPrompt(prompts, "p2")
	if !ok || got.Template != "Describe" {
		t.Fatalf("FindPrompt(p2) = %+v, %v", got, ok)
	}
	if _, ok := FindPrompt(prompts, "missing"); ok {
		t.Fatal("FindPrompt(missing) should not match")
	}
}
