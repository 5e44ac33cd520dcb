// Package pairing moves a SyncKey between devices out of band, as an invite
// string or a QR code.
package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/skip2/go-qrcode"
)

// InvitePrefix is the URL scheme for mealsync invites
const InvitePrefix = "mealsync://"

// DefaultInviteExpiry is how long invites are valid
const DefaultInviteExpiry = 24 * time.Hour

var ErrInviteExpired = errors.New("invite expired")

// Invite carries everything a new device needs to join a sync session
type Invite struct {
	SyncKey   string `json:"k"`
	RelayURL  string `json:"r,omitempty"`
	CreatedAt int64  `json:"c"`
	ExpiresAt int64  `json:"e,omitempty"` // zero never expires
}

// CreateInvite builds an invite for syncKey. relayURL may be empty;
// expiry <= 0 makes an invite that never expires.
func CreateInvite(syncKey, relayURL string, expiry time.Duration) (*Invite, error) {
	if _, err := crypto.ParseSyncKey(syncKey); err != nil {
		return nil, err
	}
	if err := validateRelayURL(relayURL); err != nil {
		return nil, err
	}

	now := time.Now()
	invite := &Invite{
		SyncKey:   syncKey,
		RelayURL:  relayURL,
		CreatedAt: now.Unix(),
	}
	if expiry > 0 {
		invite.ExpiresAt = now.Add(expiry).Unix()
	}
	return invite, nil
}

// Encode serializes the invite to a compact string
func (i *Invite) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return InvitePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// ToQR renders the bare SyncKey as a QR code PNG. The relay URL is left
// out so any scanner that reads plain text can carry the key.
func (i *Invite) ToQR() ([]byte, error) {
	return qrcode.Encode(i.SyncKey, qrcode.Medium, 256)
}

// ToQRString renders the bare SyncKey as a QR code for terminal display
func (i *Invite) ToQRString() (string, error) {
	qr, err := qrcode.New(i.SyncKey, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// IsExpired returns true if the invite has expired
func (i *Invite) IsExpired() bool {
	return i.ExpiresAt != 0 && time.Now().Unix() > i.ExpiresAt
}

// ExpiresIn returns the duration until the invite expires, or zero for
// invites that never expire
func (i *Invite) ExpiresIn() time.Duration {
	if i.ExpiresAt == 0 {
		return 0
	}
	return time.Until(time.Unix(i.ExpiresAt, 0))
}

// ParseInvite decodes and validates an invite string.
// A bare SyncKey, as read from a QR code, is accepted too.
func ParseInvite(s string) (*Invite, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, InvitePrefix) {
		if _, err := crypto.ParseSyncKey(s); err != nil {
			return nil, fmt.Errorf("not an invite or sync key: %w", err)
		}
		return &Invite{SyncKey: s}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, InvitePrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid invite encoding: %w", err)
	}

	var invite Invite
	if err := json.Unmarshal(data, &invite); err != nil {
		return nil, fmt.Errorf("invalid invite data: %w", err)
	}
	if _, err := crypto.ParseSyncKey(invite.SyncKey); err != nil {
		return nil, err
	}
	if err := validateRelayURL(invite.RelayURL); err != nil {
		return nil, err
	}
	if invite.IsExpired() {
		return nil, ErrInviteExpired
	}
	return &invite, nil
}

func validateRelayURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay url %q: missing host", raw)
	}
	return nil
}
