package insurerapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Headers required by the insurer on every call
const (
	HeaderConsumerID = "X-cons-id"
	HeaderTimestamp  = "X-timestamp"
	HeaderSignature  = "X-signature"
	HeaderUserKey    = "user_key"
)

// Signer builds the time-boxed authentication headers. It holds no mutable
// state and is safe for concurrent use.
type Signer struct {
	consumerID string
	secret     []byte
	userKey    string
	now        func() time.Time
}

// NewSigner creates a signer. A nil clock defaults to time.Now.
func NewSigner(consumerID, consumerSecret, userKey string, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{
		consumerID: consumerID,
		secret:     []byte(consumerSecret),
		userKey:    userKey,
		now:        now,
	}
}

// Timestamp encodes t as whole seconds since the Unix epoch in UTC
func (s *Signer) Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UTC().Unix(), 10)
}

// Sign returns base64(HMAC-SHA256(secret, consumerID + "&" + timestamp))
func (s *Signer) Sign(timestamp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.consumerID + "&" + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers signs with the current clock. Call once per outbound request.
func (s *Signer) Headers() map[string]string {
	return s.HeadersAt(s.now())
}

// HeadersAt signs for an explicit instant
func (s *Signer) HeadersAt(t time.Time) map[string]string {
	ts := s.Timestamp(t)
	headers := map[string]string{
		HeaderConsumerID: s.consumerID,
		HeaderTimestamp:  ts,
		HeaderSignature:  s.Sign(ts),
	}
	if s.userKey != "" {
		headers[HeaderUserKey] = s.userKey
	}
	return headers
}
