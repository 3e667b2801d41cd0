package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// SignatureHeader is the carrier's webhook signature header.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks that a webhook request genuinely originates from
// the carrier. Pure function of its inputs; no network or database access.
//
// Canonicalization rule (the carrier's): the full request URL, followed by
// every form parameter sorted by key, each key immediately followed by its
// value with no delimiter. HMAC-SHA1 over that string, base64-encoded, is
// compared to the header in constant time.
type SignatureValidator struct {
	secret []byte
}

func NewSignatureValidator(secret string) SignatureValidator {
	return SignatureValidator{secret: []byte(secret)}
}

// Valid returns the authenticity verdict. A missing signature or an
// unconfigured secret is always "not authentic" (fail closed).
func (v SignatureValidator) Valid(fullURL string, form url.Values, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}

	expected := v.compute(fullURL, form)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Sign computes the signature for a request. Exposed for tests and for the
// console tooling that replays recorded webhooks.
func (v SignatureValidator) Sign(fullURL string, form url.Values) string {
	return v.compute(fullURL, form)
}

func (v SignatureValidator) compute(fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, v.secret)
	mac.Write([]byte(fullURL))
	for _, k := range keys {
		for _, val := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(val))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
