package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"moltyagent.ai/internal/notify"
)

const (
	exportContentType = "application/zstd"
	latestName        = "latest.json.zst"
)

type objectStore interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// PoolMirror is a notify.Notifier that keeps every pool export carried by an
// admit notice, as <prefix>/pool/<account id>/<notice id>.json.zst, and
// overwrites <prefix>/pool/latest.json.zst. Notices without an attachment
// are ignored.
type PoolMirror struct {
	store  objectStore
	prefix string
	now    func() time.Time
}

func NewPoolMirror(b *Bucket, prefix string) *PoolMirror {
	return &PoolMirror{
		store:  b,
		prefix: strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		now:    time.Now,
	}
}

func (m *PoolMirror) Notify(ctx context.Context, n notify.Notice) error {
	if m == nil || m.store == nil || len(n.Attachment) == 0 {
		return nil
	}
	packed, sum, err := pack(n.Attachment)
	if err != nil {
		return fmt.Errorf("compress pool export: %w", err)
	}
	meta := map[string]string{"notice": n.ID, "account": n.Account}
	for _, key := range []string{m.noticeKey(n), m.key(latestName)} {
		err := m.store.Put(ctx, Object{
			Key:         key,
			ContentType: exportContentType,
			Body:        bytes.NewReader(packed),
			Size:        int64(len(packed)),
			SHA256:      sum,
			Metadata:    meta,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Fetch returns the decompressed export stored under key, or the latest one
// when key is empty.
func (m *PoolMirror) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		key = m.key(latestName)
	}
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(io.LimitReader(dec, maxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	return out, nil
}

func (m *PoolMirror) noticeKey(n notify.Notice) string {
	account := n.Account
	if account == "" {
		account = "unassigned"
	}
	id := n.ID
	if id == "" {
		id = m.now().UTC().Format("20060102T150405.000000000Z")
	}
	return m.key(account + "/" + id + ".json.zst")
}

func (m *PoolMirror) key(name string) string {
	return path.Join(m.prefix, "pool", name)
}

// pack compresses export and hashes the compressed stream in one pass.
func pack(export []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	h := sha256.New()
	zw, err := zstd.NewWriter(io.MultiWriter(&buf, h))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(zw, bytes.NewReader(export)); err != nil {
		_ = zw.Close()
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), hex.EncodeToString(h.Sum(nil)), nil
}
