package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-flora/internal/common"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Flora-Signature"

var (
	// ErrMissingSignature indicates the signature header was absent or malformed.
	ErrMissingSignature = errors.New("payment: missing signature")
	// ErrInvalidSignature indicates the signature did not match the payload.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrSignatureExpired indicates the signed timestamp is outside the tolerance window.
	ErrSignatureExpired = errors.New("payment: signature timestamp outside tolerance")
)

// Sign returns a header value for body signed at ts.
func Sign(secret []byte, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", t, common.HMACSha256Hex(secret, signedPayload(t, body)))
}

// Verify checks header against body. Any v1 entry may match, which allows
// secret rotation on the provider side.
func Verify(secret []byte, header string, body []byte, tolerance time.Duration, now time.Time) error {
	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrMissingSignature)
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrSignatureExpired
		}
	}
	expected := common.HMACSha256Hex(secret, signedPayload(ts, body))
	for _, sig := range signatures {
		if common.EqualHex(expected, strings.ToLower(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func signedPayload(ts string, body []byte) []byte {
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}
