// Package device derives a stable device identity and trust score from
// host-supplied signals. The device ID is a salted hash, never a raw
// hardware identifier, so it cannot be correlated across apps.
package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/store"
)

const (
	identityKey = "device.v1"
	saltLen     = 16
)

// Trust score weights. The score starts at 1.0 and the signals adjust it;
// the result is clamped to [0, 1].
const (
	compromisedPenalty = 0.5
	attestationBonus   = 0.2
	knownPlatformBonus = 0.1
)

// identity is the persisted portion of the device's fingerprint: the hash
// salt, the platform it was minted for, and the fallback ID used when no
// hardware identifiers exist. Everything else is recomputed per process.
type identity struct {
	Salt       []byte          `json:"salt"`
	Platform   domain.Platform `json:"platform"`
	FallbackID string          `json:"fallback_id,omitempty"`
}

// Provider computes the device fingerprint once per process and hands out
// copies.
type Provider struct {
	backend store.Backend
	sources Sources
	logger  *slog.Logger

	mu     sync.Mutex
	cached *domain.DeviceFingerprint
}

// NewProvider creates a provider persisting its salt through backend.
func NewProvider(backend store.Backend, sources Sources, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{backend: backend, sources: sources, logger: logger}
}

// Fingerprint returns the device fingerprint, computing and caching it on
// first use. The ID is stable across launches as long as the platform and
// hardware identifiers stay the same; a platform change (such as a backup
// restored onto a different device) mints a fresh identity.
func (p *Provider) Fingerprint(ctx context.Context) (*domain.DeviceFingerprint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		out := *p.cached
		return &out, nil
	}

	ident, err := p.loadIdentity(ctx)
	if err != nil {
		return nil, err
	}

	deviceID, err := p.deviceID(ctx, ident)
	if err != nil {
		return nil, err
	}

	attestation := p.sources.Attestation()
	fp := &domain.DeviceFingerprint{
		DeviceID:        deviceID,
		Platform:        p.sources.Platform(),
		OSVersion:       p.sources.OSVersion(),
		AppVersion:      p.sources.AppVersion(),
		IsCompromised:   p.sources.Compromised(),
		AttestationBlob: attestation.Blob,
	}
	fp.TrustScore = trustScore(fp, attestation.Status)

	p.cached = fp
	out := *fp
	return &out, nil
}

// loadIdentity reads the persisted identity, minting a new one when none
// exists, the stored one is unreadable, or the platform changed.
func (p *Provider) loadIdentity(ctx context.Context) (*identity, error) {
	platform := p.sources.Platform()

	raw, err := p.backend.Get(ctx, identityKey)
	if err == nil {
		ident := &identity{}
		if jsonErr := json.Unmarshal(raw, ident); jsonErr == nil && len(ident.Salt) == saltLen {
			if ident.Platform == platform {
				return ident, nil
			}
			p.logger.Info("device platform changed, minting new device identity",
				"previous", ident.Platform, "current", platform)
		} else {
			p.logger.Warn("replacing unreadable device identity")
		}
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to read device identity: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate device salt: %w", err)
	}

	ident := &identity{Salt: salt, Platform: platform}
	if err := p.saveIdentity(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func (p *Provider) saveIdentity(ctx context.Context, ident *identity) error {
	raw, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("failed to encode device identity: %w", err)
	}
	if err := p.backend.Set(ctx, identityKey, raw); err != nil {
		return fmt.Errorf("failed to persist device identity: %w", err)
	}
	return nil
}

// deviceID hashes the hardware identifiers under the installation salt.
// Installations without any hardware identifier get a persisted random ID
// instead; it is as stable as the backend it lives in.
func (p *Provider) deviceID(ctx context.Context, ident *identity) (string, error) {
	ids := p.sources.HardwareIDs()
	if len(ids) == 0 {
		if ident.FallbackID == "" {
			ident.FallbackID = uuid.NewString()
			if err := p.saveIdentity(ctx, ident); err != nil {
				return "", err
			}
			p.logger.Warn("no hardware identifiers available, using random device id")
		}
		return ident.FallbackID, nil
	}

	h := sha256.New()
	h.Write(ident.Salt)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// trustScore folds the integrity signals into a single number the server
// can threshold on.
func trustScore(fp *domain.DeviceFingerprint, attestationStatus string) float64 {
	score := 1.0

	if fp.IsCompromised {
		score -= compromisedPenalty
	}
	if attestationStatus == AttestationOfficial {
		score += attestationBonus
	}
	if fp.Platform.Recognized() {
		score += knownPlatformBonus
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
