package main

import (
	"fmt"

	"google.golang.org/genai"
)

const (
	imageMIMEType = "image/jpeg"
	audioMIMEType = "audio/webm"

	imageNote    = "(User provided an image/video frame as a clue)"
	audioNote    = "(User provided a voice recording as a clue)"
	fallbackNote = "(User provided a clue without any content)"
)

// Part is one piece of the content sent for the current clue.
// The set of implementations is closed: TextPart, ImagePart and AudioPart.
type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

type ImagePart struct {
	MIMEType string
	Data     []byte
}

type AudioPart struct {
	MIMEType string
	Data     []byte
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}
func (AudioPart) isPart() {}

// clueParts lays out the parts of the current clue in order: text, image
// with its note, audio with its note. It never returns an empty slice.
func clueParts(c Clue) []Part {
	var parts []Part
	if c.Text != "" {
		parts = append(parts, TextPart{Text: c.Text})
	}
	if len(c.Image) > 0 {
		parts = append(parts,
			ImagePart{MIMEType: imageMIMEType, Data: c.Image},
			TextPart{Text: imageNote},
		)
	}
	if len(c.Audio) > 0 {
		parts = append(parts,
			AudioPart{MIMEType: audioMIMEType, Data: c.Audio},
			TextPart{Text: audioNote},
		)
	}
	if len(parts) == 0 {
		parts = append(parts, TextPart{Text: fallbackNote})
	}
	return parts
}

func toGenaiPart(p Part) *genai.Part {
	switch p := p.(type) {
	case TextPart:
		return &genai.Part{Text: p.Text}
	case ImagePart:
		return &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}}
	case AudioPart:
		return &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}}
	default:
		panic(fmt.Sprintf("unknown part type %T", p))
	}
}

// buildContents turns the history projection and the current clue into the
// ordered content list. The clue is always the last user entry.
func buildContents(history []Message, c Clue) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, &genai.Content{
			Role:  m.Role,
			Parts: []*genai.Part{{Text: m.Text}},
		})
	}

	parts := clueParts(c)
	clue := &genai.Content{Role: string(genai.RoleUser), Parts: make([]*genai.Part, 0, len(parts))}
	for _, p := range parts {
		clue.Parts = append(clue.Parts, toGenaiPart(p))
	}
	return append(contents, clue)
}
