package exchange

import "testing"

func TestSignIsDeterministicForSameInput(t *testing.T) {
	t.Parallel()
	a := NewAuth("key1", "secret1")
	s1 := a.Sign("symbol=BTCUSDT&side=BUY&timestamp=1")
	s2 := a.Sign("symbol=BTCUSDT&side=BUY&timestamp=1")
	if s1 != s2 {
		t.Errorf("Sign is not deterministic: %s != %s", s1, s2)
	}
}

func TestSignDiffersAcrossSecrets(t *testing.T) {
	t.Parallel()
	q := "symbol=BTCUSDT&side=BUY&timestamp=1"
	a1 := NewAuth("key1", "secretA")
	a2 := NewAuth("key1", "secretB")
	if a1.Sign(q) == a2.Sign(q) {
		t.Error("signatures should differ for different secrets")
	}
}

func TestSignDiffersAcrossQueryStrings(t *testing.T) {
	t.Parallel()
	a := NewAuth("key1", "secret1")
	if a.Sign("a=1") == a.Sign("a=2") {
		t.Error("signatures should differ for different query strings")
	}
}

func TestAPIKeyReturnsConfiguredKey(t *testing.T) {
	t.Parallel()
	a := NewAuth("my-key", "my-secret")
	if a.APIKey() != "my-key" {
		t.Errorf("APIKey() = %s, want my-key", a.APIKey())
	}
}

func TestTimestampIsNonEmpty(t *testing.T) {
	t.Parallel()
	if Timestamp() == "" {
		t.Error("Timestamp() returned empty string")
	}
}
