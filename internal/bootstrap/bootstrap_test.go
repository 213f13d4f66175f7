package bootstrap

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"moltyagent.ai/internal/config"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/notify"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"file", "sqlite"} {
		s, err := OpenStore(config.PoolConfig{Driver: driver, Path: filepath.Join(dir, "pool."+driver)})
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if _, err := s.Upsert(context.Background(), identity.Identity{AccountID: "a", Name: "n", APIKey: "k"}); err != nil {
			t.Fatalf("%s upsert: %v", driver, err)
		}
		_ = s.Close()
	}
}

func TestNotifier_NopWithoutSecrets(t *testing.T) {
	n, closeFn := Notifier(config.Defaults(), log.New(io.Discard, "", 0))
	defer closeFn()
	if _, ok := n.(notify.Nop); !ok {
		t.Fatalf("notifier = %T, want Nop", n)
	}

	cfg := config.Defaults()
	cfg.Telegram.Token, cfg.Telegram.ChatID = "t", "c"
	n, closeFn2 := Notifier(cfg, log.New(io.Discard, "", 0))
	defer closeFn2()
	m, ok := n.(notify.Multi)
	if !ok || len(m) != 1 {
		t.Fatalf("notifier = %#v, want one dispatcher", n)
	}
	if _, ok := m[0].(*notify.Dispatcher); !ok {
		t.Fatalf("sink = %T, want Dispatcher", m[0])
	}
}

func TestNotifier_FailingBackupDoesNotRepeatTelegram(t *testing.T) {
	var mu sync.Mutex
	tgCalls := map[string]int{}
	tg := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tgCalls[path.Base(r.URL.Path)]++
		mu.Unlock()
		_, _ = io.WriteString(rw, `{"ok":true}`)
	}))
	defer tg.Close()
	puts := 0
	r2 := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		puts++
		mu.Unlock()
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer r2.Close()

	cfg := config.Defaults()
	cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.BaseURL = "t", "c", tg.URL
	cfg.Backup = config.BackupConfig{Endpoint: r2.URL, Bucket: "b", AccessKey: "a", SecretKey: "s"}
	n, closeFn := Notifier(cfg, log.New(io.Discard, "", 0))

	err := n.Notify(context.Background(), notify.Notice{
		ID:             "n1",
		Account:        "acc-1",
		Title:          "New Account Created!",
		Attachment:     []byte(`[]`),
		AttachmentName: "dynamic_accounts.json",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	closeFn()

	mu.Lock()
	defer mu.Unlock()
	if tgCalls["sendMessage"] != 1 || tgCalls["sendDocument"] != 1 {
		t.Fatalf("telegram calls = %v, want one message and one document", tgCalls)
	}
	if puts != 3 {
		t.Fatalf("backup puts = %d, want 3 attempts", puts)
	}
}
