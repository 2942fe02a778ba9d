// SPDX-License-Identifier: MIT

// Package sigv4 implements AWS Signature Version 4 request signing from
// scratch, so outbound queue requests can be authenticated without a
// vendor SDK. The canonical request construction and the chained HMAC
// key derivation must stay bit-for-bit compatible with the receiving
// service; see the golden-vector tests.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	algorithm  = "AWS4-HMAC-SHA256"
	terminator = "aws4_request"
	keyPrefix  = "AWS4"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"
)

// ErrNoCredentials is returned when the signer has no usable key material.
// Callers treat it as "skip delivery", never as a crash.
var ErrNoCredentials = errors.New("sigv4: no credentials configured")

// Credentials is the static key material used for signing.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string // optional, for temporary credentials
}

// Configured reports whether the credentials are usable for signing.
func (c Credentials) Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Authenticator signs an outbound HTTP request so the receiving service
// accepts it. Implementations are safe for concurrent use.
type Authenticator interface {
	// Sign adds Authorization and date headers to req for the given body
	// and signing time. The body must be exactly the bytes that will be
	// transmitted.
	Sign(req *http.Request, body []byte, now time.Time) error
}

// Signer is the Signature Version 4 implementation of Authenticator.
type Signer struct {
	creds   Credentials
	region  string
	service string
}

// NewSigner creates a Signer scoped to one region/service pair.
func NewSigner(creds Credentials, region, service string) *Signer {
	return &Signer{creds: creds, region: region, service: service}
}

// Sign implements Authenticator.
func (s *Signer) Sign(req *http.Request, body []byte, now time.Time) error {
	if !s.creds.Configured() {
		return ErrNoCredentials
	}

	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	if s.creds.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", s.creds.SessionToken)
	}

	payloadHash := hexSHA256(body)

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req),
		canonicalQueryString(req),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.region, s.service, terminator}, "/")
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveKey(s.creds.SecretAccessKey, dateStamp, s.region, s.service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, s.creds.AccessKeyID, scope, signedHeaders, signature,
	))
	return nil
}

// deriveKey performs the chained HMAC-SHA256 key derivation:
// kDate = HMAC("AWS4"+secret, date); kRegion = HMAC(kDate, region);
// kService = HMAC(kRegion, service); kSigning = HMAC(kService, terminator).
func deriveKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte(keyPrefix+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

// canonicalizeHeaders builds the canonical header block from the minimal
// signed header set: content-type (when present), host, and x-amz-date.
// Returns the canonical block (trailing newline included) and the
// semicolon-joined signed header list.
func canonicalizeHeaders(req *http.Request) (string, string) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	headers := map[string]string{
		"host":       host,
		"x-amz-date": req.Header.Get("X-Amz-Date"),
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		headers["content-type"] = ct
	}
	if tok := req.Header.Get("X-Amz-Security-Token"); tok != "" {
		headers["x-amz-security-token"] = tok
	}
	if tgt := req.Header.Get("X-Amz-Target"); tgt != "" {
		headers["x-amz-target"] = tgt
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var block strings.Builder
	for _, name := range names {
		block.WriteString(name)
		block.WriteByte(':')
		block.WriteString(strings.TrimSpace(headers[name]))
		block.WriteByte('\n')
	}
	return block.String(), strings.Join(names, ";")
}

func canonicalURI(req *http.Request) string {
	path := req.URL.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}

// canonicalQueryString sorts parameters by key, then by value, and
// percent-encodes both per RFC 3986 (space as %20, tilde unreserved).
func canonicalQueryString(req *http.Request) string {
	query := req.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		ek := uriEncode(k)
		for _, v := range values {
			pairs = append(pairs, ek+"="+uriEncode(v))
		}
	}
	return strings.Join(pairs, "&")
}

// uriEncode implements the AWS variant of RFC 3986 percent-encoding:
// unreserved characters pass through, everything else becomes %XX.
func uriEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z',
			c >= 'a' && c <= 'z',
			c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
