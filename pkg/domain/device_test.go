package domain

import "testing"

func TestPlatformRecognized(t *testing.T) {
	tests := []struct {
		platform Platform
		want     bool
	}{
		{PlatformIOS, true},
		{PlatformAndroid, true},
		{PlatformOther, false},
		{Platform("windows"), false},
		{Platform(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			if got := tt.platform.Recognized(); got != tt.want {
				t.Errorf("Recognized() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceFingerprintCompromised(t *testing.T) {
	tests := []struct {
		name string
		fp   DeviceFingerprint
		want bool
	}{
		{
			name: "healthy device",
			fp:   DeviceFingerprint{Platform: PlatformIOS, TrustScore: 0.8},
			want: false,
		},
		{
			name: "jailbreak indicator set",
			fp:   DeviceFingerprint{Platform: PlatformIOS, IsCompromised: true, TrustScore: 0.8},
			want: true,
		},
		{
			name: "trust score below floor",
			fp:   DeviceFingerprint{Platform: PlatformAndroid, TrustScore: 0.2},
			want: true,
		},
		{
			name: "trust score exactly at floor",
			fp:   DeviceFingerprint{Platform: PlatformAndroid, TrustScore: CompromisedScoreFloor},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fp.Compromised(); got != tt.want {
				t.Errorf("Compromised() = %v, want %v", got, tt.want)
			}
		})
	}
}
