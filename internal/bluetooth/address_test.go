package bluetooth

import (
	"errors"
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercase", in: "c9:a3:05:11:22:33", want: "C9:A3:05:11:22:33"},
		{name: "already upper", in: "C9:8F:00:00:00:01", want: "C9:8F:00:00:00:01"},
		{name: "dashes rejected", in: "C9-A3-05-11-22-33", wantErr: true},
		{name: "too short", in: "C9:A3:05", wantErr: true},
		{name: "eui64 rejected", in: "00:00:00:00:fe:80:00:00", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("NormalizeAddress(%q) err = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKernelAddressIsReversed(t *testing.T) {
	got, err := kernelAddress("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("kernelAddress() unexpected error: %v", err)
	}
	want := [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if got != want {
		t.Errorf("kernelAddress() = % X, want % X", got, want)
	}
}

func TestMatchesAny(t *testing.T) {
	prefixes := []string{"C9:7", "C9:8", "C9:A"}

	tests := []struct {
		address string
		want    bool
	}{
		{"C9:7F:00:00:00:01", true},
		{"c9:8a:00:00:00:01", true},
		{"C9:a3:05:11:22:33", true},
		{"C9:B0:00:00:00:01", false},
		{"C8:7F:00:00:00:01", false},
		{"C9", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			if got := MatchesAny(tt.address, prefixes); got != tt.want {
				t.Errorf("MatchesAny(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}

	if MatchesAny("C9:7F:00:00:00:01", nil) {
		t.Error("empty prefix list should match nothing")
	}
}
