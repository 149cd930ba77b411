package device

import (
	"os"
	"runtime"

	"github.com/tendant/simple-session/pkg/domain"
)

// Attestation status values reported by platform integrity APIs.
const (
	AttestationOfficial = "official"
	AttestationUnknown  = ""
)

// Attestation is the platform integrity verdict for this installation, as
// produced by DeviceCheck/App Attest on iOS or Play Integrity on Android.
type Attestation struct {
	Status string
	Blob   []byte
}

// Sources supplies the raw device signals the provider hashes and scores.
// The host app implements this against its platform APIs; the library never
// reaches into the OS itself.
type Sources interface {
	Platform() domain.Platform
	OSVersion() string
	AppVersion() string

	// HardwareIDs returns stable identifiers for this installation, such
	// as the iOS identifierForVendor or the Android SSAID. Order matters:
	// the same IDs in the same order produce the same device ID.
	HardwareIDs() []string

	// Compromised reports whether the host detected jailbreak or root
	// indicators.
	Compromised() bool

	Attestation() Attestation
}

// StaticSources is a Sources backed by fixed values. Host apps that gather
// signals up front can hand them over in one struct; tests use it to pin
// every input.
type StaticSources struct {
	DevicePlatform    domain.Platform
	DeviceOSVersion   string
	DeviceAppVersion  string
	IDs               []string
	CompromisedDevice bool
	DeviceAttestation Attestation
}

func (s *StaticSources) Platform() domain.Platform { return s.DevicePlatform }
func (s *StaticSources) OSVersion() string         { return s.DeviceOSVersion }
func (s *StaticSources) AppVersion() string        { return s.DeviceAppVersion }
func (s *StaticSources) HardwareIDs() []string     { return s.IDs }
func (s *StaticSources) Compromised() bool         { return s.CompromisedDevice }
func (s *StaticSources) Attestation() Attestation  { return s.DeviceAttestation }

// HostSources derives device facts from the host OS, for desktop or headless
// hosts with no mobile platform bridge. The hostname stands in for a
// hardware identifier; hosts without one fall back to the provider's
// persisted random ID.
func HostSources(appVersion string) Sources {
	var ids []string
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		ids = []string{hostname}
	}
	return &StaticSources{
		DevicePlatform:   domain.PlatformOther,
		DeviceOSVersion:  runtime.GOOS,
		DeviceAppVersion: appVersion,
		IDs:              ids,
	}
}
