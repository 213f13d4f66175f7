// Package bootstrap builds the collaborators shared by the agent and the
// pool admin commands.
package bootstrap

import (
	"log"

	"moltyagent.ai/internal/backup"
	"moltyagent.ai/internal/config"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/notify"
)

// OpenStore opens the identity store named by cfg.Driver.
func OpenStore(cfg config.PoolConfig) (identity.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return identity.OpenSQLite(cfg.Path)
	default:
		return identity.OpenFile(cfg.Path)
	}
}

// Notifier fans admits out to Telegram and the R2 pool mirror. Each sink
// gets its own async dispatcher so a failing sink is retried alone. With
// neither configured it returns a no-op.
func Notifier(cfg config.Config, logger *log.Logger) (notify.Notifier, func()) {
	type sink struct {
		name string
		d    *notify.Dispatcher
	}
	var sinks []sink
	add := func(name string, n notify.Notifier) {
		d := notify.NewDispatcher(n, notify.DispatcherConfig{QueueCapacity: cfg.Telegram.Queue}, logger)
		sinks = append(sinks, sink{name: name, d: d})
	}

	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:   cfg.Telegram.Token,
			ChatID:  cfg.Telegram.ChatID,
			BaseURL: cfg.Telegram.BaseURL,
		})
		if err != nil {
			logger.Printf("telegram disabled: %v", err)
		} else {
			add("telegram", tg)
		}
	}
	if cfg.Backup.Enabled() {
		m, err := Mirror(cfg.Backup)
		if err != nil {
			logger.Printf("pool backup disabled: %v", err)
		} else {
			add("backup", m)
			logger.Printf("pool backup: bucket=%s prefix=%s", cfg.Backup.Bucket, cfg.Backup.Prefix)
		}
	}
	if len(sinks) == 0 {
		return notify.Nop{}, func() {}
	}

	fan := make(notify.Multi, 0, len(sinks))
	for _, s := range sinks {
		fan = append(fan, s.d)
	}
	return fan, func() {
		for _, s := range sinks {
			s.d.Close()
			st := s.d.Stats()
			logger.Printf("%s notifications: sent=%d failed=%d dropped=%d", s.name, st.SentTotal, st.FailTotal, st.DroppedTotal)
		}
	}
}

// Mirror opens the bucket named by cfg for pool backups.
func Mirror(cfg config.BackupConfig) (*backup.PoolMirror, error) {
	b, err := backup.Open(backup.Config{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewPoolMirror(b, cfg.Prefix), nil
}
