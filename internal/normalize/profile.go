package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"bienestar/internal/models"
)

// profileKind discriminates the top-level encodings of emotionalProfile.
type profileKind int

const (
	profileAbsent profileKind = iota
	profileMapping
	profileList
	profileInvalid
)

// entryKind discriminates one element of a list-encoded profile.
type entryKind int

const (
	entryInvalid entryKind = iota
	entryTriple            // [ignored, dimensionName, score]
	entryPair              // [dimensionName, score]
	entryObject            // {dimensionName, score}
)

// Accepted key names for the object entry form
var (
	objectNameKeys  = []string{"dimensionName", "dimension", "name"}
	objectScoreKeys = []string{"score", "value"}
)

func classifyProfile(v any) profileKind {
	switch v.(type) {
	case nil:
		return profileAbsent
	case map[string]any:
		return profileMapping
	case []any:
		return profileList
	default:
		return profileInvalid
	}
}

func classifyEntry(v any) entryKind {
	switch e := v.(type) {
	case []any:
		if len(e) == 3 && isName(e[1]) {
			return entryTriple
		}
		if len(e) == 2 && isName(e[0]) {
			return entryPair
		}
	case map[string]any:
		if isName(lookup(e, objectNameKeys)) && lookup(e, objectScoreKeys) != nil {
			return entryObject
		}
	}
	return entryInvalid
}

// decodeProfile resolves any accepted encoding into the canonical mapping.
// ok is false when the value is unusable: wrong type, or a non-empty
// collection in which no entry survived coercion.
func decodeProfile(v any) (profile map[string]float64, dropped int, ok bool) {
	profile = map[string]float64{}

	switch classifyProfile(v) {
	case profileAbsent:
		return profile, 0, true

	case profileMapping:
		m := v.(map[string]any)
		for name, raw := range m {
			score, valid := coerceScore(raw)
			name = strings.TrimSpace(name)
			if !valid || name == "" {
				dropped++
				continue
			}
			profile[name] = score
		}
		return profile, dropped, len(m) == 0 || len(profile) > 0

	case profileList:
		list := v.([]any)
		for _, entry := range list {
			name, score, valid := decodeEntry(entry)
			if !valid {
				dropped++
				continue
			}
			profile[name] = score
		}
		return profile, dropped, len(list) == 0 || len(profile) > 0
	}

	return nil, 0, false
}

func decodeEntry(v any) (string, float64, bool) {
	var name, raw any

	switch classifyEntry(v) {
	case entryTriple:
		e := v.([]any)
		name, raw = e[1], e[2]
	case entryPair:
		e := v.([]any)
		name, raw = e[0], e[1]
	case entryObject:
		e := v.(map[string]any)
		name, raw = lookup(e, objectNameKeys), lookup(e, objectScoreKeys)
	default:
		return "", 0, false
	}

	score, ok := coerceScore(raw)
	if !ok {
		return "", 0, false
	}
	return strings.TrimSpace(name.(string)), score, true
}

// coerceScore accepts numbers and numeric strings that are finite and in [1,5].
func coerceScore(v any) (float64, bool) {
	var f float64
	switch s := v.(type) {
	case json.Number:
		parsed, err := s.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = s
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < models.MinScore || f > models.MaxScore {
		return 0, false
	}
	return f, true
}

func isName(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func lookup(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
