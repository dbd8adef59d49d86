package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TimestampLayout is the canonical ISO-8601 form every stored record carries
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Score bounds for emotional profile dimensions
const (
	MinScore = 1
	MaxScore = 5
)

// MaxPriorityAreas caps data.priorityAreas
const MaxPriorityAreas = 3

// AssessmentRecord is one completed assessment in a user's history
type AssessmentRecord struct {
	ID        string         `json:"id" yaml:"id" validate:"required"`
	Timestamp string         `json:"timestamp" yaml:"timestamp" validate:"required,datetime=2006-01-02T15:04:05.000Z07:00"`
	Data      AssessmentData `json:"data" yaml:"data"`
}

// AssessmentData holds the assessment results
type AssessmentData struct {
	EmotionalProfile map[string]float64 `json:"emotionalProfile" yaml:"emotionalProfile" validate:"dive,keys,required,endkeys,min=1,max=5"`
	PriorityAreas    []string           `json:"priorityAreas" yaml:"priorityAreas" validate:"max=3"`
	Feedback         string             `json:"feedback" yaml:"feedback" validate:"required"`
	Respuestas       map[string]any     `json:"respuestas,omitempty" yaml:"respuestas,omitempty"` // nil when there are no answers
}

// Time returns the parsed timestamp, or the zero time if it does not parse
func (r AssessmentRecord) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimestamp renders t in the canonical layout (UTC, millisecond precision)
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewLocalRecord creates a record that has not been synced yet.
// Local records get a random id until the remote system confirms them.
func NewLocalRecord(data AssessmentData, now time.Time) AssessmentRecord {
	if data.EmotionalProfile == nil {
		data.EmotionalProfile = map[string]float64{}
	}
	if data.PriorityAreas == nil {
		data.PriorityAreas = []string{}
	}
	if len(data.Respuestas) == 0 {
		data.Respuestas = nil
	}
	return AssessmentRecord{
		ID:        uuid.New().String(),
		Timestamp: FormatTimestamp(now),
		Data:      data,
	}
}

// API status values returned by the evaluations API
const (
	StatusOK   = "OK"
	StatusNOOK = "NOOK"
)

// APIResponse is the envelope every evaluations API call answers with.
// Data is either a JSON array of raw records or a string holding an encrypted envelope.
type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsOK reports whether the API accepted the request
func (r *APIResponse) IsOK() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), StatusOK)
}

// NoAssessments reports the "user has no evaluations" business status.
// This is a valid empty result, not an error.
func (r *APIResponse) NoAssessments() bool {
	if !strings.EqualFold(strings.TrimSpace(r.Status), StatusNOOK) {
		return false
	}
	msg := foldMessage(r.Message)
	return strings.Contains(msg, "no hay evaluaciones") ||
		strings.Contains(msg, "sin evaluaciones") ||
		strings.Contains(msg, "no existen evaluaciones")
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldMessage lowercases and removes accents so "No hay evaluaciónes" still matches
func foldMessage(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}
