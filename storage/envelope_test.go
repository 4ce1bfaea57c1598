package storage

import (
	"bytes"
	"testing"

	"github.com/helyxium/trustcore/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, _ := util.NewAESKey()
	plain := []byte("salt-and-derived-key")
	aad := []byte("context")

	env, err := SealRecord(key, plain, aad, 3)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 || env.Scheme != SchemeAESGCM || env.Version != 3 {
		t.Errorf("unexpected envelope header: %+v", env)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.NewAESKey()
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error for unsupported version")
		}
	})

	t.Run("PlainSchemeRejected", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = SchemePlain
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error for plaintext scheme")
		}
	})
}

func TestPlainRecord(t *testing.T) {
	type profile struct {
		Username string `json:"username"`
		Age      int    `json:"age"`
	}

	env, err := PlainRecord(profile{Username: "alice", Age: 30}, 7)
	if err != nil {
		t.Fatalf("PlainRecord failed: %v", err)
	}
	if env.Scheme != SchemePlain || env.Version != 7 {
		t.Errorf("unexpected envelope header: %+v", env)
	}

	var got profile
	if err := DecodePlain(env, &got); err != nil {
		t.Fatalf("DecodePlain failed: %v", err)
	}
	if got.Username != "alice" || got.Age != 30 {
		t.Errorf("unexpected decoded profile: %+v", got)
	}

	clone := env.Clone()
	clone.Payload[0] = 'X'
	if env.Payload[0] == 'X' {
		t.Error("Clone shares payload storage")
	}

	sealed := &Envelope{Ver: 1, Scheme: SchemeAESGCM}
	if err := DecodePlain(sealed, &got); err == nil {
		t.Error("expected error decoding a sealed envelope as plaintext")
	}
}
