package helpers

import "testing"

func TestGenerateSecureRandomLength(t *testing.T) {
	b, err := GenerateSecureRandom(16)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(b))
	}
}

func TestGenerateSecureRandomIsNotConstant(t *testing.T) {
	a, _ := GenerateSecureRandom(16)
	b, _ := GenerateSecureRandom(16)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("two independent calls produced identical output")
	}
}
