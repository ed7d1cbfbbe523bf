package language

import "testing"

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	if got := NormalizeTag(" EN_us "); got != "en-us" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("zh-Hans"); got != "zh-hans" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("en--US"); got != "en-us" {
		t.Fatalf("unexpected collapsed tag: %q", got)
	}
	if got := NormalizeTag("en_123"); got != "" {
		t.Fatalf("expected invalid tag to normalize to empty string, got %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	if got := NormalizeCode(" EN-us "); got != "en" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode("ja"); got != "ja" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode(" "); got != "" {
		t.Fatalf("expected empty code for blank input, got %q", got)
	}
}

func TestCompatible(t *testing.T) {
	t.Parallel()

	if !Compatible("en-US", "en-GB") {
		t.Fatalf("expected shared primary subtag to be compatible")
	}
	if !Compatible("", "ja") {
		t.Fatalf("expected unknown side to be compatible with anything")
	}
	if !Compatible("und", "ko") {
		t.Fatalf("expected und to be compatible with anything")
	}
	if Compatible("en", "ja") {
		t.Fatalf("expected definite primary mismatch to be incompatible")
	}
}

func TestDetectCodeShortSamples(t *testing.T) {
	t.Parallel()

	if got := DetectCode(""); got != "" {
		t.Fatalf("expected empty input to yield no code, got %q", got)
	}
	if got := DetectCode("ab 12"); got != "" {
		t.Fatalf("expected thin sample to yield no code, got %q", got)
	}
}
