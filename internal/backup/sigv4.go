package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	sigAlgorithm    = "AWS4-HMAC-SHA256"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	amzDateLayout   = "20060102T150405Z"
)

// emptySHA256 is the payload digest of a request without a body.
var emptySHA256 = hexSHA256(nil)

// signer applies AWS Signature V4 for one region and service. R2 accepts
// region "auto".
type signer struct {
	accessKey string
	secretKey string
	region    string
	service   string
}

// sign stamps req at the given time. host, content-type and every x-amz-*
// header present on req are part of the signature.
func (s signer) sign(req *http.Request, payloadHash string, at time.Time) {
	stamp := at.UTC().Format(amzDateLayout)
	day := stamp[:8]
	req.Header.Set("x-amz-date", stamp)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	names, headers := canonicalHeaders(req)
	scope := day + "/" + s.region + "/" + s.service + "/aws4_request"
	canonical := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		canonicalQuery(req.URL.Query()),
		headers,
		names,
		payloadHash,
	}, "\n")
	toSign := sigAlgorithm + "\n" + stamp + "\n" + scope + "\n" + hexSHA256([]byte(canonical))

	sig := hex.EncodeToString(hmacSum(s.key(day), toSign))
	req.Header.Set("Authorization", sigAlgorithm+" Credential="+s.accessKey+"/"+scope+
		", SignedHeaders="+names+", Signature="+sig)
}

func (s signer) key(day string) []byte {
	k := hmacSum([]byte("AWS4"+s.secretKey), day)
	for _, part := range []string{s.region, s.service, "aws4_request"} {
		k = hmacSum(k, part)
	}
	return k
}

// canonicalHeaders returns the signed header list and the newline
// terminated canonical header block.
func canonicalHeaders(req *http.Request) (string, string) {
	vals := map[string]string{"host": req.URL.Host}
	for name, v := range req.Header {
		lower := strings.ToLower(name)
		if lower == "content-type" || strings.HasPrefix(lower, "x-amz-") {
			vals[lower] = strings.TrimSpace(strings.Join(v, ","))
		}
	}
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(vals[name])
		b.WriteByte('\n')
	}
	return strings.Join(names, ";"), b.String()
}

func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var pairs []string
	for _, k := range keys {
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			pairs = append(pairs, awsEscape(k)+"="+awsEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

func awsEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSum(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}
