package domain

// Platform identifies the operating system family a device runs.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformOther   Platform = "other"
)

// Recognized returns true for the official mobile platforms the remote
// service treats as first-class.
func (p Platform) Recognized() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// CompromisedScoreFloor is the trust score below which a device is treated
// as compromised even without an explicit indicator.
const CompromisedScoreFloor = 0.3

// DeviceFingerprint is the stable, privacy-preserving identity of the
// device plus an advisory trust signal. The identifier is a hash: raw
// hardware identifiers never leave the device. The score is input to the
// remote service's trust decision, never a local security boundary.
type DeviceFingerprint struct {
	DeviceID        string   `json:"device_id"`
	Platform        Platform `json:"platform"`
	OSVersion       string   `json:"os_version"`
	AppVersion      string   `json:"app_version"`
	IsCompromised   bool     `json:"is_compromised"`
	AttestationBlob []byte   `json:"attestation_blob,omitempty"`
	TrustScore      float64  `json:"trust_score"`
}

// Compromised reports whether the device should be flagged to the server:
// either an indicator fired or the composite score fell below the floor.
func (f *DeviceFingerprint) Compromised() bool {
	return f.IsCompromised || f.TrustScore < CompromisedScoreFloor
}
