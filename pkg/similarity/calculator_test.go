package similarity

import "testing"

func TestCosine_Basic(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	c := []float32{0, 1}

	got, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < 0.99 {
		t.Fatalf("expected cosine(a,b) ~ 1, got %f", got)
	}

	got, err = Cosine(a, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got > 0.01 {
		t.Fatalf("expected cosine(a,c) ~ 0, got %f", got)
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	if _, err := Cosine([]float32{1, 0}, []float32{1}); err == nil {
		t.Fatalf("expected error for mismatched dimensions")
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	got, err := Cosine([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for zero vector, got %f", got)
	}
}
