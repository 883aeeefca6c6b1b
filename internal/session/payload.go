package session

import (
	"encoding/json"
	"strconv"
)

// TitleField is the form field carrying the session title.
const TitleField = "title"

// PhotoFieldPrefix prefixes the positional key of every file part.
const PhotoFieldPrefix = "photos_"

// PhotoField returns the form field name for the file at index i.
func PhotoField(i int) string {
	return PhotoFieldPrefix + strconv.Itoa(i)
}

// Part is one file in a payload, keyed by its position at submit time.
type Part struct {
	Field string
	File  FileHandle
}

// Payload is everything sent in one submission.
type Payload struct {
	SessionID string
	Title     string
	Parts     []Part
}

// NewPayload tags every file with its positional key. The files slice is
// copied so later appends to a session do not leak into the payload.
func NewPayload(sessionID, title string, files []FileHandle) *Payload {
	p := &Payload{
		SessionID: sessionID,
		Title:     title,
		Parts:     make([]Part, len(files)),
	}
	for i, f := range files {
		p.Parts[i] = Part{Field: PhotoField(i), File: f}
	}
	return p
}

// Fields lists the form field names in the order they are written.
func (p *Payload) Fields() []string {
	fields := make([]string, 0, len(p.Parts)+1)
	fields = append(fields, TitleField)
	for _, part := range p.Parts {
		fields = append(fields, part.Field)
	}
	return fields
}

// Result is delivered exactly once per submission attempt.
type Result struct {
	SessionID string
	Attempt   int
	Body      json.RawMessage // server's JSON reply on success
	Err       error
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool { return r.Err == nil }
