package logging

import "testing"

func TestAllowlistCoversEngineLogKeys(t *testing.T) {
	for _, key := range []string{"operation", "module", "addr", "error", "service", "env"} {
		if !IsAllowlisted(key) {
			t.Fatalf("engine log key %q missing from allowlist", key)
		}
	}
}

func TestSensitiveKeysAreNotAllowlisted(t *testing.T) {
	for _, key := range []string{"resource", "amount", "payment_amount", "secret"} {
		if IsAllowlisted(key) {
			t.Fatalf("sensitive key %q must not be allowlisted", key)
		}
	}
}

func TestIsAllowlistedNormalizesCase(t *testing.T) {
	if !IsAllowlisted(" Error ") {
		t.Fatal("expected case- and space-insensitive match")
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("500") != RedactedValue {
		t.Fatal("non-empty value must be masked")
	}
	if MaskValue("") != "" {
		t.Fatal("empty value must pass through")
	}
	if MaskValue(" ") != " " {
		t.Fatal("whitespace-only value must pass through")
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("allowlist not sorted at %d: %q >= %q", i, keys[i-1], keys[i])
		}
	}
}
