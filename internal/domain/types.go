package domain

import "time"

// PipelineState tracks which stage of the upload pipeline is live.
type PipelineState string

const (
	StateIdle       PipelineState = "idle"
	StateConverting PipelineState = "converting"
	StateUploading  PipelineState = "uploading"
	StateRequesting PipelineState = "requesting"
	StateDone       PipelineState = "done"
)

// Label returns the short status text shown next to the submit control.
func (s PipelineState) Label() string {
	switch s {
	case StateIdle:
		return "Upload video"
	case StateConverting:
		return "Converting..."
	case StateUploading:
		return "Uploading..."
	case StateRequesting:
		return "Transcribing..."
	case StateDone:
		return "Success!"
	default:
		return string(s)
	}
}

// AudioMediaType is the only media type the transcoder produces.
const AudioMediaType = "audio/mpeg"

// VideoSelection is one user-picked video held in memory.
type VideoSelection struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"-"`
}

// AudioArtifact is the audio-only file extracted from a selection.
type AudioArtifact struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"-"`
}

// Prompt is one transcription prompt suggestion served by the API.
type Prompt struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Template string `json:"template"`
}

// Run is the persisted outcome of one pipeline run.
type Run struct {
	ID            string        `json:"id"`
	VideoName     string        `json:"videoName"`
	Prompt        string        `json:"prompt"`
	FinalState    PipelineState `json:"finalState"`
	FailedStage   PipelineState `json:"failedStage,omitempty"`
	RemoteVideoID string        `json:"remoteVideoId,omitempty"`
	Error         string        `json:"error,omitempty"`
	Superseded    bool          `json:"superseded"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
}

// Engine kinds accepted by Settings.Engine.
const (
	EngineWASM   = "wasm"
	EngineNative = "native"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIBaseURL         string   `json:"apiBaseUrl"`
	Engine             string   `json:"engine"`
	EngineWASMPath     string   `json:"engineWasmPath"`
	EngineWASMURL      string   `json:"engineWasmUrl,omitempty"`
	FFmpegPath         string   `json:"ffmpegPath"`
	DataDir            string   `json:"dataDir"`
	ListenAddr         string   `json:"listenAddr"`
	CORSOrigins        []string `json:"corsOrigins,omitempty"`
	HTTPTimeoutSeconds int      `json:"httpTimeoutSeconds"`
}
