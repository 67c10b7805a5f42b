package crypto

import (
	"strings"
	"testing"
)

func TestHashSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"simple key", "operator-key-123"},
		{"complex key", "P@ssw0rd!#$%^&*()"},
		{"unicode", "ключ123"},
		{"near limit", strings.Repeat("a", 70)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashSecret(tt.secret)
			if err != nil {
				t.Fatalf("HashSecret failed: %v", err)
			}
			if hash == "" {
				t.Error("hash should not be empty")
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("hash should start with bcrypt prefix, got: %s", hash[:10])
			}
			if hash == tt.secret {
				t.Error("hash must differ from secret")
			}
		})
	}
}

func TestHashSecret_Errors(t *testing.T) {
	if _, err := HashSecret(""); err != ErrEmptySecret {
		t.Errorf("пустой секрет: ожидалась ErrEmptySecret, получено %v", err)
	}
	if _, err := HashSecret(strings.Repeat("a", 73)); err != ErrSecretTooLong {
		t.Errorf("длинный секрет: ожидалась ErrSecretTooLong, получено %v", err)
	}
}

func TestVerifySecret(t *testing.T) {
	hash, err := HashSecret("correct-key")
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}

	if err := VerifySecret("correct-key", hash); err != nil {
		t.Errorf("правильный секрет должен проходить: %v", err)
	}
	if err := VerifySecret("wrong-key", hash); err != ErrSecretMismatch {
		t.Errorf("ожидалась ErrSecretMismatch, получено %v", err)
	}
	if err := VerifySecret("key", "not-a-bcrypt-hash"); err != ErrInvalidHash {
		t.Errorf("ожидалась ErrInvalidHash, получено %v", err)
	}
	if err := VerifySecret("", hash); err != ErrEmptySecret {
		t.Errorf("ожидалась ErrEmptySecret, получено %v", err)
	}
}

func TestCheckSecretMatch(t *testing.T) {
	hash, _ := HashSecret("api-key")

	if !CheckSecretMatch("api-key", hash) {
		t.Error("правильный ключ должен совпадать")
	}
	if CheckSecretMatch("other", hash) {
		t.Error("неправильный ключ не должен совпадать")
	}
}
