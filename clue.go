package main

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"sync"
)

// placeholderClue is sent when a clue would otherwise carry no content.
const placeholderClue = "User gave a clue."

var (
	// ErrCaptureNotReady is returned when a frame is taken before the video
	// surface reports its dimensions.
	ErrCaptureNotReady = errors.New("capture not ready")
	// ErrEmptyRecording is returned when a recording session captured nothing.
	ErrEmptyRecording = errors.New("empty recording")
)

// Clue is one user-submitted input for a single round.
type Clue struct {
	Text  string
	Image []byte
	Audio []byte
}

// NewClue builds a clue, substituting a placeholder text when every field is empty.
func NewClue(text string, img, audio []byte) Clue {
	c := Clue{Text: text, Image: img, Audio: audio}
	if c.empty() {
		c.Text = placeholderClue
	}
	return c
}

// TextClue is a clue made of typed text only.
func TextClue(text string) Clue {
	return NewClue(text, nil, nil)
}

func (c Clue) empty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Image) == 0 && len(c.Audio) == 0
}

// Modality reports how the clue was given. Image wins over audio.
func (c Clue) Modality() Modality {
	switch {
	case len(c.Image) > 0:
		return ModalityVideo
	case len(c.Audio) > 0:
		return ModalityVoice
	default:
		return ModalityText
	}
}

// CanSubmitText reports whether typed text is eligible for submission.
func CanSubmitText(s string) bool {
	return strings.TrimSpace(s) != ""
}

// Frame is a still snapshot of the capture surface.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// FrameFromImage wraps encoded image bytes, reading the dimensions from the
// image header. Unreadable data yields a 0x0 frame.
func FrameFromImage(data []byte) Frame {
	f := Frame{Data: data}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f
}

// EncodeFrame turns a snapshot into a visual clue.
func EncodeFrame(f Frame) (Clue, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0 {
		return Clue{}, ErrCaptureNotReady
	}
	return Clue{Image: f.Data}, nil
}

// FrameSource produces still frames on demand.
type FrameSource interface {
	Snapshot() (Frame, error)
}

// Capabilities describes what the capture side can currently provide.
// Video may be missing while audio still works.
type Capabilities struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Recorder collects the chunks of one press-and-hold recording.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends a chunk to the current recording.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// ReadFrom appends everything read from src to the current recording.
func (r *Recorder) ReadFrom(src io.Reader) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.ReadFrom(src)
}

// Len returns the number of bytes recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Finish ends the recording session and returns it as a voice clue.
// The recorder is reset either way.
func (r *Recorder) Finish() (Clue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() == 0 {
		return Clue{}, ErrEmptyRecording
	}
	audio := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	return Clue{Audio: audio}, nil
}
