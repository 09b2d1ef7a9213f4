package paddle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoSecrets          = errors.New("no webhook secrets configured")
	ErrMissingSignature   = errors.New("missing paddle-signature header")
	ErrMalformedSignature = errors.New("malformed paddle-signature header")
	ErrStaleTimestamp     = errors.New("signature timestamp outside allowed window")
	ErrSignatureMismatch  = errors.New("signature does not match any configured secret")
)

// Signature is the parsed paddle-signature header:
// ts=<unix-seconds>;h1=<hex-hmac-sha256>.
type Signature struct {
	Timestamp int64
	H1        string
}

// ParseSignatureHeader splits the header into semicolon-separated key=value
// pairs and requires both ts and h1.
func ParseSignatureHeader(header string) (Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Signature{}, ErrMissingSignature
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "h1":
			h1 = kv[1]
		}
	}
	if ts == "" || h1 == "" {
		return Signature{}, ErrMalformedSignature
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Signature{}, ErrMalformedSignature
	}
	return Signature{Timestamp: tsInt, H1: h1}, nil
}

// Verifier checks webhook signatures against one or more concurrently
// valid secrets, so secrets can be rotated without dropping deliveries.
type Verifier struct {
	secrets     [][]byte
	maxSkew     time.Duration
	rejectStale bool
	now         func() time.Time
}

func NewVerifier(secrets []string, maxSkew time.Duration, rejectStale bool) *Verifier {
	v := &Verifier{
		maxSkew:     maxSkew,
		rejectStale: rejectStale,
		now:         time.Now,
	}
	for _, s := range secrets {
		if s != "" {
			v.secrets = append(v.secrets, []byte(s))
		}
	}
	return v
}

// Configured reports whether at least one secret is available. Without
// secrets every delivery must be rejected as a server misconfiguration.
func (v *Verifier) Configured() bool {
	return len(v.secrets) > 0
}

// Verify authenticates body against the paddle-signature header. The
// digest is HMAC-SHA256 over "{ts}:{raw_body}"; it matches if any
// configured secret produces h1 (hex compared case-insensitively).
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Configured() {
		return ErrNoSecrets
	}

	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	skew := v.now().Unix() - sig.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.maxSkew {
		if v.rejectStale {
			return ErrStaleTimestamp
		}
		slog.Warn("webhook signature timestamp outside skew window",
			"ts", sig.Timestamp, "skew_seconds", skew)
	}

	provided, err := hex.DecodeString(strings.ToLower(sig.H1))
	if err != nil {
		return ErrMalformedSignature
	}

	tsBytes := []byte(strconv.FormatInt(sig.Timestamp, 10))
	for _, secret := range v.secrets {
		mac := hmac.New(sha256.New, secret)
		mac.Write(tsBytes)
		mac.Write([]byte(":"))
		mac.Write(body)
		if hmac.Equal(mac.Sum(nil), provided) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
