package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

// TestEncryptDecrypt проверяет базовый цикл шифрования/расшифровки
func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"simple text", "Hello, World!"},
		{"broker login", "trader-account-7421"},
		{"unicode text", "Привет мир 你好世界"},
		{"special chars", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"long text", strings.Repeat("a", 1000)},
		{"json credentials", `{"login": "7421", "password": "very_secret", "server": "demo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			// Результат должен быть валидным base64
			if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
				t.Errorf("encrypted result is not valid base64: %v", err)
			}

			// Шифротекст не должен содержать исходных данных
			if tt.plaintext != "" && strings.Contains(encrypted, tt.plaintext) {
				t.Error("ciphertext contains plaintext")
			}

			decrypted, err := Decrypt(encrypted, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("round-trip mismatch: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncrypt_InvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		key := make([]byte, n)
		if _, err := Encrypt("data", key); err != ErrInvalidKeyLength {
			t.Errorf("key length %d: ожидалась ErrInvalidKeyLength, получено %v", n, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	encrypted, err := Encrypt("secret data", key1)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Расшифровка чужим ключом должна провалить аутентификацию
	if _, err := Decrypt(encrypted, key2); err != ErrDecryptionFailed {
		t.Errorf("ожидалась ErrDecryptionFailed, получено %v", err)
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	key, _ := GenerateKey()

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "not-valid-base64!!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.ciphertext, key); err == nil {
				t.Error("ожидалась ошибка для повреждённого шифротекста")
			}
		})
	}
}

func TestEncrypt_UniqueNonce(t *testing.T) {
	key, _ := GenerateKey()

	// Один и тот же plaintext должен давать разные шифротексты
	a, _ := Encrypt("same data", key)
	b, _ := Encrypt("same data", key)
	if a == b {
		t.Error("одинаковые шифротексты: nonce не случайный")
	}
}

func TestValidateKey(t *testing.T) {
	key, _ := GenerateKey()
	if err := ValidateKey(key); err != nil {
		t.Errorf("валидный ключ: %v", err)
	}
	if err := ValidateKey(make([]byte, 16)); err != ErrInvalidKeyLength {
		t.Errorf("ожидалась ErrInvalidKeyLength, получено %v", err)
	}
}
