package insurerapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zatekoja/insurance-eligibility/backend/internal/domain/entities"
)

// Kind is the tri-state result of one eligibility lookup
type Kind string

const (
	KindEligible    Kind = "eligible"
	KindNotEligible Kind = "not_eligible"
	KindAPIFailure  Kind = "api_failure"
)

// Error codes attached to APIFailure outcomes
const (
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNetwork           = "NETWORK_ERROR"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeInsurer           = "INSURER_ERROR"

	// ErrCodeCanceled means the caller went away before the insurer answered.
	// It says nothing about the insurer's health.
	ErrCodeCanceled = entities.APIErrorCodeCanceled
)

// codeSuccess is the insurer's metaData code for a processed request
const codeSuccess = "200"

// participantActive is statusPeserta.kode for an active participant
const participantActive = "0"

// ineligiblePhrases are matched case-insensitively against metaData.message
// when the response code is not in the configured table.
var ineligiblePhrases = []string{
	"tidak aktif",
	"tidak ditemukan",
	"tidak terdaftar",
	"non aktif",
	"nonaktif",
	"not active",
	"not found",
}

// Outcome is the normalized answer of a single insurer call
type Outcome struct {
	Kind         Kind            `json:"kind"`
	Message      string          `json:"message"`
	ResponseCode string          `json:"response_code,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Participant  json.RawMessage `json:"participant,omitempty"`
	// Body is the raw insurer payload, kept for the cache
	Body json.RawMessage `json:"-"`
}

// IsSuccess reports whether the insurer gave a business answer
func (o *Outcome) IsSuccess() bool {
	return o != nil && o.Kind != KindAPIFailure
}

// Failure builds an APIFailure outcome
func Failure(code, message string) *Outcome {
	return &Outcome{Kind: KindAPIFailure, ErrorCode: code, Message: message}
}

// flexString accepts both "200" and 200
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type envelope struct {
	MetaData *struct {
		Code    flexString `json:"code"`
		Message string     `json:"message"`
	} `json:"metaData"`
	Response json.RawMessage `json:"response"`
}

type participantResponse struct {
	Peserta json.RawMessage `json:"peserta"`
}

type participant struct {
	StatusPeserta struct {
		Kode       flexString `json:"kode"`
		Keterangan string     `json:"keterangan"`
	} `json:"statusPeserta"`
}

// Classifier maps insurer responses to outcomes. Response codes from the
// configured table win over phrase matching.
type Classifier struct {
	ineligibleCodes map[string]struct{}
}

// NewClassifier creates a classifier with the given "not eligible" codes
func NewClassifier(ineligibleCodes []string) *Classifier {
	codes := make(map[string]struct{}, len(ineligibleCodes))
	for _, code := range ineligibleCodes {
		if code = strings.TrimSpace(code); code != "" {
			codes[code] = struct{}{}
		}
	}
	return &Classifier{ineligibleCodes: codes}
}

// Classify turns an HTTP status and body into an outcome. It is pure and is
// also applied to cached bodies.
func (c *Classifier) Classify(statusCode int, body []byte) *Outcome {
	var env envelope
	parseErr := json.Unmarshal(body, &env)

	if statusCode < 200 || statusCode > 299 {
		msg := http.StatusText(statusCode)
		if parseErr == nil && env.MetaData != nil && env.MetaData.Message != "" {
			msg = env.MetaData.Message
		}
		return Failure(fmt.Sprintf("HTTP_%d", statusCode), msg)
	}

	if parseErr != nil || env.MetaData == nil {
		return Failure(ErrCodeMalformedResponse, "insurer response is not a valid envelope")
	}

	code := strings.TrimSpace(string(env.MetaData.Code))
	message := env.MetaData.Message

	if code == codeSuccess {
		return c.classifyParticipant(code, message, env.Response, body)
	}

	if _, ok := c.ineligibleCodes[code]; ok {
		return &Outcome{Kind: KindNotEligible, Message: message, ResponseCode: code, Body: body}
	}

	if matchesIneligiblePhrase(message) {
		return &Outcome{Kind: KindNotEligible, Message: message, ResponseCode: code, Body: body}
	}

	out := Failure(ErrCodeInsurer, message)
	out.ResponseCode = code
	return out
}

func (c *Classifier) classifyParticipant(code, message string, response json.RawMessage, body []byte) *Outcome {
	var pr participantResponse
	if len(response) == 0 || json.Unmarshal(response, &pr) != nil || len(pr.Peserta) == 0 {
		return Failure(ErrCodeMalformedResponse, "insurer response has no participant")
	}

	var p participant
	if err := json.Unmarshal(pr.Peserta, &p); err != nil {
		return Failure(ErrCodeMalformedResponse, "insurer participant is not readable")
	}

	status := strings.TrimSpace(string(p.StatusPeserta.Kode))
	if p.StatusPeserta.Keterangan != "" {
		message = p.StatusPeserta.Keterangan
	}

	kind := KindNotEligible
	if status == participantActive {
		kind = KindEligible
	}
	return &Outcome{
		Kind:         kind,
		Message:      message,
		ResponseCode: code,
		Participant:  pr.Peserta,
		Body:         body,
	}
}

func matchesIneligiblePhrase(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range ineligiblePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
