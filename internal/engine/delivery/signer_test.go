package delivery

import "testing"

func TestCanonicalSortsKeysAndSeparators(t *testing.T) {
	body, err := Canonical(map[string]interface{}{
		"timestamp": "2024-01-01T00:00:00",
		"test":      true,
	})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"test": true, "timestamp": "2024-01-01T00:00:00"}`
	if string(body) != want {
		t.Errorf("canonical form = %s, want %s", body, want)
	}
}

func TestCanonicalNestedValues(t *testing.T) {
	body, err := Canonical(map[string]interface{}{
		"seo_keywords": []string{"go", "api"},
		"campaign_id":  nil,
	})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"campaign_id": null, "seo_keywords": ["go", "api"]}`
	if string(body) != want {
		t.Errorf("canonical form = %s, want %s", body, want)
	}
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	body, err := Canonical(map[string]interface{}{"url": "https://x.example/a?b=1&c=2"})
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"url": "https://x.example/a?b=1&c=2"}`
	if string(body) != want {
		t.Errorf("canonical form = %s, want %s", body, want)
	}
}

// Known-answer vectors; receivers in other languages compute the same
// signatures, so these bytes are a wire contract.
func TestSignKnownVectors(t *testing.T) {
	tests := []struct {
		secret  string
		payload map[string]interface{}
		want    string
	}{
		{
			secret:  "s3cret",
			payload: map[string]interface{}{"test": true, "timestamp": "2024-01-01T00:00:00"},
			want:    "24a6c0e43844ca0e3b49dcbbb8eb26dd64e05946c80d9116b4dab4393c0d9143",
		},
		{
			secret:  "secret",
			payload: map[string]interface{}{"job_id": "j1", "title": "T"},
			want:    "d6e8493836165a7c57a44fc9bb8fd80629dcb22db931767e2f67ab2f306dfa3d",
		},
	}

	for _, tt := range tests {
		body, err := Canonical(tt.payload)
		if err != nil {
			t.Fatalf("Canonical: %v", err)
		}
		if got := Sign(tt.secret, body); got != tt.want {
			t.Errorf("Sign(%q, %s) = %s, want %s", tt.secret, body, got, tt.want)
		}
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a": 1}`)
	sig := Sign("k", body)
	if !Verify("k", body, sig) {
		t.Error("valid signature rejected")
	}
	if Verify("k", body, sig[:len(sig)-1]+"f") && sig[len(sig)-1] != 'f' {
		t.Error("tampered signature accepted")
	}
	if Verify("other", body, sig) {
		t.Error("wrong secret accepted")
	}
}
