package engine

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// progressWriter parses ffmpeg stderr into a non-decreasing ratio in [0,1].
// ffmpeg rewrites its stats line with '\r', so both '\r' and '\n' end a line.
type progressWriter struct {
	mu         sync.Mutex
	onProgress func(float64)
	pending    []byte
	duration   float64
	last       float64
}

func newProgressWriter(onProgress func(float64)) *progressWriter {
	return &progressWriter{onProgress: onProgress, last: -1}
}

// Write implements io.Writer.
func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.consume(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Finish flushes any partial line and reports completion.
func (w *progressWriter) Finish() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.consume(w.pending)
		w.pending = nil
	}
	w.report(1)
}

func (w *progressWriter) consume(line []byte) {
	if w.duration <= 0 {
		if m := durationPattern.FindSubmatch(line); m != nil {
			w.duration = parseClock(m[1], m[2], m[3])
			w.report(0)
			return
		}
	}
	if w.duration <= 0 {
		return
	}

	m := timePattern.FindSubmatch(line)
	if m == nil {
		return
	}
	w.report(parseClock(m[1], m[2], m[3]) / w.duration)
}

func (w *progressWriter) report(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	if ratio <= w.last {
		return
	}
	w.last = ratio
	if w.onProgress != nil {
		w.onProgress(ratio)
	}
}

// parseClock converts HH, MM and SS.ss captures into seconds.
func parseClock(h, m, s []byte) float64 {
	hours, _ := strconv.ParseFloat(string(h), 64)
	minutes, _ := strconv.ParseFloat(string(m), 64)
	seconds, _ := strconv.ParseFloat(string(s), 64)
	if hours < 0 {
		return -1
	}
	return hours*3600 + minutes*60 + seconds
}
