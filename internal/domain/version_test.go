package domain

import "testing"

func TestValidVersionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"1.18", true},
		{"v1.18", true},
		{"1.0", true},
		{"1.00", true},
		{"v0.9", true},
		{"1", false},
		{"1.2.3", false},
		{"v", false},
		{"", false},
		{"1.x", false},
		{"V1.18", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidVersionID(tt.id); got != tt.want {
				t.Errorf("ValidVersionID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalizeRelease(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"1.00", "1.0"},
		{"1.0", "1.0"},
		{"v1.0", "1.0"},
		{"1.10", "1.10"},
		{"1.18", "1.18"},
		{"v1.18", "1.18"},
		{"2.000", "2.0"},
		{"2.200", "2.200"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := NormalizeRelease(tt.id); got != tt.want {
				t.Errorf("NormalizeRelease(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestSameRelease(t *testing.T) {
	if !SameRelease("1.00", "1.0") {
		t.Error("SameRelease(1.00, 1.0) = false, want true")
	}
	if !SameRelease("v1.18", "1.18") {
		t.Error("SameRelease(v1.18, 1.18) = false, want true")
	}
	if SameRelease("1.1", "1.18") {
		t.Error("SameRelease(1.1, 1.18) = true, want false")
	}
	if SameRelease("1.1", "1.10") {
		t.Error("SameRelease(1.1, 1.10) = true, want false")
	}
}

func TestInferAlgorithm(t *testing.T) {
	sha := "bb476f3f1a7ddef1de1cf587d4d858ec2fe0c0b06aaf1f5180b8b0f3a2c84966"
	md5 := "d41d8cd98f00b204e9800998ecf8427e"

	tests := []struct {
		name    string
		digest  string
		want    Algorithm
		wantErr bool
	}{
		{"sha256 length", sha, AlgorithmSHA256, false},
		{"md5 length", md5, AlgorithmMD5, false},
		{"truncated", sha[:40], "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferAlgorithm(tt.digest)
			if (err != nil) != tt.wantErr {
				t.Fatalf("InferAlgorithm() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("InferAlgorithm() = %v, want %v", got, tt.want)
			}
		})
	}
}
