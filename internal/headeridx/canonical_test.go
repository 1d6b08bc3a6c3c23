package headeridx

import "testing"

func TestCanonicalHeaderKeyBehavior(t *testing.T) {
	cases := map[string]string{
		"content-type":        "Content-Type",
		"CONTENT-LENGTH":      "Content-Length",
		"x-forwarded-for":     "X-Forwarded-For",
		"":                    "",
		"already-Canonical-X": "Already-Canonical-X",
	}
	for in, want := range cases {
		if got := CanonicalHeaderKey(in); got != want {
			t.Fatalf("CanonicalHeaderKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidFieldNameRejectsSeparators(t *testing.T) {
	if !ValidFieldName("X-Custom-Header") {
		t.Fatal("expected valid token name to pass")
	}
	for _, bad := range []string{"", "Bad Name", "Bad:Name", "Bad\tName"} {
		if ValidFieldName(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestValidFieldValueRejectsControlBytes(t *testing.T) {
	if !ValidFieldValue("plain value") {
		t.Fatal("expected plain value to pass")
	}
	if !ValidFieldValue("has\ttab") {
		t.Fatal("expected HTAB to be allowed")
	}
	if ValidFieldValue("has\x00nul") {
		t.Fatal("expected NUL byte to be rejected")
	}
	if ValidFieldValue("has\rcr") {
		t.Fatal("expected bare CR to be rejected")
	}
}

func TestValidateFieldCombinesBothChecks(t *testing.T) {
	if err := ValidateField("X-Trace-Id", "abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateField("Bad Name", "v"); err == nil {
		t.Fatal("expected error for invalid field name")
	}
	if err := ValidateField("X-Trace-Id", "bad\nvalue"); err == nil {
		t.Fatal("expected error for invalid field value")
	}
}
