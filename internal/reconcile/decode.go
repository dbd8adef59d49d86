package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"bienestar/internal/crypto"
	"bienestar/internal/metrics"
	"bienestar/internal/models"
	"bienestar/internal/normalize"
	"bienestar/internal/unwrap"
)

// ErrRemote is a business-level error reported by the evaluations API (NOOK)
var ErrRemote = errors.New("evaluations API reported an error")

// RemoteBatch is a decoded getEvaluacion response
type RemoteBatch struct {
	Records  []models.AssessmentRecord
	Rejected []*normalize.Rejection
	Dropped  int // profile entries dropped inside accepted records

	// Empty is set when the API explicitly reports that the user has no assessments.
	// The local cache is cleared in that case.
	Empty bool
}

// Decode turns a raw getEvaluacion body into normalized records:
// unwrap, read the {status, message, data} envelope, decrypt data when it is a
// string, then normalize the batch.
//
// Errors wrap unwrap.Error, crypto.ErrDecrypt, normalize.ErrBatchShape or ErrRemote.
func Decode(codec *crypto.Codec, body string) (*RemoteBatch, error) {
	raw, shape, err := unwrap.UnwrapShape(body)
	if err != nil {
		return nil, err
	}
	metrics.RecordUnwrapShape(string(shape))

	var items json.RawMessage
	if first(raw) == '[' {
		// Bare array without the status envelope
		items = raw
	} else {
		var resp models.APIResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: response is not a status envelope: %v", normalize.ErrBatchShape, err)
		}
		if resp.NoAssessments() {
			return &RemoteBatch{Records: []models.AssessmentRecord{}, Empty: true}, nil
		}
		if !resp.IsOK() {
			return nil, fmt.Errorf("%w: %s %q", ErrRemote, resp.Status, resp.Message)
		}
		items, err = payload(codec, resp.Data)
		if err != nil {
			return nil, err
		}
	}

	result, err := normalize.NormalizeBatch(items)
	if err != nil {
		return nil, err
	}

	for _, rej := range result.Rejected {
		metrics.RecordDropped(string(rej.Reason))
	}
	metrics.RecordProfileEntriesDropped(result.Dropped)

	return &RemoteBatch{
		Records:  result.Records,
		Rejected: result.Rejected,
		Dropped:  result.Dropped,
	}, nil
}

// payload resolves envelope data into the raw record array
func payload(codec *crypto.Codec, data json.RawMessage) (json.RawMessage, error) {
	switch first(data) {
	case 0:
		return json.RawMessage("[]"), nil
	case 'n':
		if string(bytes.TrimSpace(data)) == "null" {
			return json.RawMessage("[]"), nil
		}
	case '[':
		return data, nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: data string: %v", normalize.ErrBatchShape, err)
		}
		env, err := crypto.ParseEnvelope(s)
		if err != nil {
			return nil, err
		}
		return decrypt(codec, env)
	case '{':
		var env crypto.Envelope
		if err := json.Unmarshal(data, &env); err == nil && env.IV != "" && env.Data != "" {
			return decrypt(codec, env)
		}
	}
	return nil, fmt.Errorf("%w: unexpected data %s", normalize.ErrBatchShape, unwrap.Preview(string(data)))
}

func decrypt(codec *crypto.Codec, env crypto.Envelope) (json.RawMessage, error) {
	var items json.RawMessage
	if err := codec.DecryptJSON(env, &items); err != nil {
		// Never log ciphertext; the lengths are enough to spot an IV or key mismatch
		slog.Warn("failed to decrypt remote assessments",
			"iv_len", len(env.IV),
			"data_len", len(env.Data),
			"error", err)
		return nil, err
	}
	return items, nil
}

func first(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}
