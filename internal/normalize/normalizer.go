// Package normalize coerces loosely-typed assessment records from the
// evaluations API into models.AssessmentRecord.
//
// Every record is validated on its own: a malformed record is rejected and
// dropped while the rest of the batch proceeds. Only a batch that is not a
// list of records at all fails as a whole (ErrBatchShape).
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bienestar/internal/models"

	"github.com/go-playground/validator/v10"
)

// ErrBatchShape means the remote payload is not a sequence of record-like objects.
var ErrBatchShape = errors.New("remote batch is not a list of records")

// Reason classifies why a record was rejected
type Reason string

const (
	ReasonNotObject       Reason = "not_object"
	ReasonMissingID       Reason = "missing_id"
	ReasonBadTimestamp    Reason = "bad_timestamp"
	ReasonBadProfile      Reason = "bad_profile"
	ReasonMissingFeedback Reason = "missing_feedback"
	ReasonSchema          Reason = "schema"
)

// Rejection is returned for a record that cannot be recovered
type Rejection struct {
	Reason Reason
	ID     string // empty when the id itself was the problem
	Detail string
}

func (r *Rejection) Error() string {
	if r.ID == "" {
		return fmt.Sprintf("record rejected (%s): %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("record %s rejected (%s): %s", r.ID, r.Reason, r.Detail)
}

// Timestamp layouts tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

var validate = validator.New()

// BatchResult is the outcome of normalizing one API response
type BatchResult struct {
	Records  []models.AssessmentRecord
	Rejected []*Rejection
	Dropped  int // profile entries dropped inside accepted records
}

// NormalizeBatch normalizes every element of a JSON array of raw records.
func NormalizeBatch(raw json.RawMessage) (*BatchResult, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: %s", ErrBatchShape, describe(raw))
	}

	objects := 0
	for _, item := range items {
		if isObject(item) {
			objects++
		}
	}
	if len(items) > 0 && objects == 0 {
		return nil, fmt.Errorf("%w: array holds no objects", ErrBatchShape)
	}

	result := &BatchResult{Records: make([]models.AssessmentRecord, 0, len(items))}
	for _, item := range items {
		rec, dropped, err := normalize(item)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				result.Rejected = append(result.Rejected, rej)
				continue
			}
			return nil, err
		}
		result.Dropped += dropped
		result.Records = append(result.Records, *rec)
	}
	return result, nil
}

// Normalize coerces one raw record. Failures are always *Rejection.
func Normalize(raw json.RawMessage) (*models.AssessmentRecord, error) {
	rec, _, err := normalize(raw)
	return rec, err
}

func normalize(raw json.RawMessage) (*models.AssessmentRecord, int, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, 0, &Rejection{Reason: ReasonNotObject, Detail: err.Error()}
	}

	id, ok := coerceID(fields["id"])
	if !ok {
		return nil, 0, &Rejection{Reason: ReasonMissingID, Detail: "id missing or not a string/number"}
	}

	ts, ok := coerceTimestamp(fields["timestamp"])
	if !ok {
		return nil, 0, &Rejection{Reason: ReasonBadTimestamp, ID: id, Detail: fmt.Sprintf("unparsable timestamp %v", fields["timestamp"])}
	}

	// Results may be nested under "data" (possibly as a JSON string) or sit at the top level
	body := fields
	if nested := nestedData(fields["data"]); nested != nil {
		body = nested
	}

	profile, dropped, ok := decodeProfile(body["emotionalProfile"])
	if !ok {
		return nil, 0, &Rejection{Reason: ReasonBadProfile, ID: id, Detail: "emotionalProfile has no usable dimension"}
	}

	feedback, _ := body["feedback"].(string)
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, 0, &Rejection{Reason: ReasonMissingFeedback, ID: id, Detail: "feedback is empty"}
	}

	rec := &models.AssessmentRecord{
		ID:        id,
		Timestamp: models.FormatTimestamp(ts),
		Data: models.AssessmentData{
			EmotionalProfile: profile,
			PriorityAreas:    coercePriorityAreas(body["priorityAreas"]),
			Feedback:         feedback,
			Respuestas:       coerceRespuestas(body["respuestas"]),
		},
	}

	if err := Validate(rec); err != nil {
		return nil, 0, &Rejection{Reason: ReasonSchema, ID: id, Detail: err.Error()}
	}
	return rec, dropped, nil
}

// Validate checks a record against the stored-record schema
func Validate(rec *models.AssessmentRecord) error {
	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %s", describe(raw))
	}
	return m, nil
}

func nestedData(v any) map[string]any {
	switch d := v.(type) {
	case map[string]any:
		return d
	case string:
		if m, err := decodeObject(json.RawMessage(d)); err == nil {
			return m
		}
	}
	return nil
}

func coerceID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		return id.String(), true
	}
	return "", false
}

// CanonicalTimestamp parses a client or API timestamp and renders it in the stored ISO-8601 form
func CanonicalTimestamp(s string) (string, bool) {
	t, ok := coerceTimestamp(s)
	if !ok {
		return "", false
	}
	return models.FormatTimestamp(t), true
}

func coerceTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	candidates := []string{s}
	if sql := strings.Replace(s, " ", "T", 1); sql != s {
		candidates = append(candidates, sql)
	}

	for _, c := range candidates {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// coercePriorityAreas flattens one level, keeps strings, caps at three.
func coercePriorityAreas(v any) []string {
	areas := []string{}
	list, ok := v.([]any)
	if !ok {
		return areas
	}

	add := func(x any) {
		if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
			areas = append(areas, strings.TrimSpace(s))
		}
	}
	for _, item := range list {
		if nested, ok := item.([]any); ok {
			for _, x := range nested {
				add(x)
			}
			continue
		}
		add(item)
	}

	if len(areas) > models.MaxPriorityAreas {
		areas = areas[:models.MaxPriorityAreas]
	}
	return areas
}

// coerceRespuestas passes an object through; everything else means no answers.
func coerceRespuestas(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = plain(val)
	}
	return out
}

// plain replaces json.Number with int64/float64 so the value encodes the same in every export format
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, val := range x {
			x[k] = plain(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = plain(val)
		}
		return x
	}
	return v
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func describe(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return "empty payload"
	}
	switch t[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 'n':
		return "null"
	}
	return "scalar"
}
