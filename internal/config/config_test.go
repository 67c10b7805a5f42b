package config

import (
	"strings"
	"testing"
	"time"

	"orchestrator/pkg/crypto"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Broker.QueueCapacity != 256 {
		t.Errorf("QueueCapacity = %d, want 256", cfg.Broker.QueueCapacity)
	}
	if cfg.Approval.Window != 60*time.Second {
		t.Errorf("Approval.Window = %v, want 60s", cfg.Approval.Window)
	}
	if cfg.Risk.KellyCap != 0.25 {
		t.Errorf("KellyCap = %v, want 0.25", cfg.Risk.KellyCap)
	}
	if cfg.Trader.PersistInterval != 60*time.Second {
		t.Errorf("PersistInterval = %v, want 60s", cfg.Trader.PersistInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RISK_KELLY_CAP", "0.5")
	t.Setenv("APPROVAL_WINDOW", "2m")
	t.Setenv("APPROVAL_AUTO_APPROVE_TAGS", "rebalance, hedge")
	t.Setenv("MAGIC_ID", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Risk.KellyCap != 0.5 {
		t.Errorf("KellyCap = %v, want 0.5", cfg.Risk.KellyCap)
	}
	if cfg.Approval.Window != 2*time.Minute {
		t.Errorf("Approval.Window = %v, want 2m", cfg.Approval.Window)
	}
	if len(cfg.Approval.AutoApproveTags) != 2 || cfg.Approval.AutoApproveTags[1] != "hedge" {
		t.Errorf("AutoApproveTags = %v", cfg.Approval.AutoApproveTags)
	}
	if cfg.Trader.MagicID != 7 {
		t.Errorf("MagicID = %d, want 7", cfg.Trader.MagicID)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad server port", "SERVER_PORT", "99999", "SERVER_PORT"},
		{"short encryption key", "ENCRYPTION_KEY", "too-short", "ENCRYPTION_KEY"},
		{"raw api key instead of hash", "API_KEY_HASH", "plain-secret", "API_KEY_HASH"},
		{"kelly cap above one", "RISK_KELLY_CAP", "1.5", "RISK_KELLY_CAP"},
		{"zero queue capacity", "QUEUE_CAPACITY", "0", "QUEUE_CAPACITY"},
		{"negative keep count", "NOTIFY_KEEP_COUNT", "-5", "NOTIFY_KEEP_COUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestConnConfig(t *testing.T) {
	t.Setenv("RECONNECT_INITIAL", "500ms")
	t.Setenv("PROBE_STRIKES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cc := cfg.ConnConfig()
	if cc.Backoff.InitialDelay != 500*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 500ms", cc.Backoff.InitialDelay)
	}
	if cc.ProbeStrikes != 5 {
		t.Errorf("ProbeStrikes = %d, want 5", cc.ProbeStrikes)
	}
	// Не перекрытые параметры сохраняют дефолты
	if cc.Backoff.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cc.Backoff.Multiplier)
	}
}

func TestBrokerPassword_DecryptsWithKey(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	ciphertext, err := crypto.Encrypt("hunter2", []byte(key))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	t.Setenv("ENCRYPTION_KEY", key)
	t.Setenv("BROKER_PASSWORD", ciphertext)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	password, err := cfg.BrokerPassword()
	if err != nil {
		t.Fatalf("BrokerPassword: %v", err)
	}
	if password != "hunter2" {
		t.Errorf("password = %q, want hunter2", password)
	}
	// Зашифрованное значение не должно утекать как есть
	if cfg.Broker.Password == password {
		t.Error("ciphertext совпал с plaintext")
	}
}

func TestBrokerPassword_PlaintextWithoutKey(t *testing.T) {
	t.Setenv("BROKER_PASSWORD", "plain-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	password, err := cfg.BrokerPassword()
	if err != nil {
		t.Fatalf("BrokerPassword: %v", err)
	}
	if password != "plain-secret" {
		t.Errorf("password = %q, want plain-secret", password)
	}
}

func TestBrokerPassword_GarbageCiphertext(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("BROKER_PASSWORD", "not-a-ciphertext")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := cfg.BrokerPassword(); err == nil {
		t.Fatal("expected decryption error")
	}
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: 5432, User: "orc", Password: "secret", Name: "orchestrator", SSLMode: "disable",
	}

	dsn := db.DSN()
	if !strings.Contains(dsn, "password=secret") {
		t.Errorf("DSN missing password: %s", dsn)
	}
	if strings.Contains(db.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword leaked password")
	}
}
