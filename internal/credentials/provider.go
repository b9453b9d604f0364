package credentials

import "context"

// Set is the signing material handed to the transport before each request.
type Set struct {
	AppID     string
	SecretID  string
	SecretKey string
	// Token is set when SecretID/SecretKey are temporary STS credentials.
	Token string
}

func (s Set) Valid() bool {
	return s.AppID != "" && s.SecretID != "" && s.SecretKey != ""
}

// Provider supplies credentials on demand. Implementations own rotation and
// storage; the core only reads.
type Provider interface {
	Credentials(ctx context.Context) (Set, error)
}

// StaticProvider returns a fixed credential set.
type StaticProvider struct {
	set Set
}

func NewStaticProvider(set Set) *StaticProvider {
	return &StaticProvider{set: set}
}

func (p *StaticProvider) Credentials(_ context.Context) (Set, error) {
	return p.set, nil
}

// OfflineLicense is the license material for the on-device engine. Either the
// direct form (License/LicensePK/LicenseSign, no network needed) or the
// online-activation form (LicensePK/LicenseKey plus account credentials) is
// populated, not both.
type OfflineLicense struct {
	License     string
	LicensePK   string
	LicenseSign string

	LicenseKey  string
	SecretID    string
	SecretKey   string
	Token       string
	RefreshAuth bool
}

// Direct reports whether the license can be activated without a network call.
func (l OfflineLicense) Direct() bool {
	return l.License != "" && l.LicenseSign != ""
}

func (l OfflineLicense) Valid() bool {
	if l.LicensePK == "" {
		return false
	}
	if l.Direct() {
		return true
	}
	return l.LicenseKey != "" && l.SecretID != "" && l.SecretKey != ""
}
