// Package backup keeps compressed copies of the identity pool in an
// S3-compatible bucket (Cloudflare R2).
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxObjectBytes bounds Get; pool exports are a few kilobytes.
const maxObjectBytes = 32 << 20

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	// Region defaults to "auto".
	Region string
}

// Object is one upload. Body is read once; Size must match it.
type Object struct {
	Key         string
	ContentType string
	Body        io.Reader
	Size        int64
	// SHA256 is the hex digest of Body. When empty the payload is sent
	// unsigned.
	SHA256   string
	Metadata map[string]string
}

// StatusError is a non-2xx answer from the bucket.
type StatusError struct {
	Op     string
	Key    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backup %s %s: status=%d body=%s", e.Op, e.Key, e.Status, e.Body)
}

func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

type Bucket struct {
	base   string
	signer signer
	hc     *http.Client
	now    func() time.Time
}

func Open(cfg Config) (*Bucket, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	if endpoint == "" || bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("backup: endpoint, bucket, access key and secret key are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("backup: bad endpoint %q", cfg.Endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	sig := signer{
		accessKey: strings.TrimSpace(cfg.AccessKey),
		secretKey: strings.TrimSpace(cfg.SecretKey),
		region:    region,
		service:   "s3",
	}
	return &Bucket{
		base:   strings.TrimRight(u.String(), "/") + "/" + url.PathEscape(bucket),
		signer: sig,
		hc:     &http.Client{Timeout: 2 * time.Minute},
		now:    time.Now,
	}, nil
}

func (b *Bucket) Put(ctx context.Context, obj Object) error {
	key, err := cleanKey(obj.Key)
	if err != nil {
		return err
	}
	req, err := b.request(ctx, http.MethodPut, key, obj.Body)
	if err != nil {
		return err
	}
	req.ContentLength = obj.Size
	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)
	for k, v := range obj.Metadata {
		if v != "" {
			req.Header.Set("x-amz-meta-"+strings.ToLower(k), v)
		}
	}
	hash := obj.SHA256
	if hash == "" {
		hash = unsignedPayload
	}
	b.signer.sign(req, hash, b.now())

	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("backup put %s: %w", key, err)
	}
	defer resp.Body.Close()
	return checkStatus("put", key, resp)
}

func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	req, err := b.request(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	b.signer.sign(req, emptySHA256, b.now())

	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backup get %s: %w", key, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("get", key, resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("backup get %s: %w", key, err)
	}
	if len(body) > maxObjectBytes {
		return nil, fmt.Errorf("backup get %s: object larger than %d bytes", key, maxObjectBytes)
	}
	return body, nil
}

func (b *Bucket) request(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return http.NewRequestWithContext(ctx, method, b.base+"/"+strings.Join(parts, "/"), body)
}

func checkStatus(op, key string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snip, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{Op: op, Key: key, Status: resp.StatusCode, Body: strings.TrimSpace(string(snip))}
}

// cleanKey drops empty and "." segments and refuses keys that climb out of
// the bucket.
func cleanKey(key string) (string, error) {
	var parts []string
	for _, p := range strings.Split(strings.ReplaceAll(key, "\\", "/"), "/") {
		switch p = strings.TrimSpace(p); p {
		case "", ".":
		case "..":
			return "", fmt.Errorf("backup: object key %q leaves the bucket", key)
		default:
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("backup: empty object key")
	}
	return strings.Join(parts, "/"), nil
}
