package config

import (
	"bytes"
	"crypto/ecdh"
	"encoding/base64"
	"fmt"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
)

// VapidConfig is the process-wide application server key pair.
// Keys are base64url encoded, as produced by webpush.GenerateVAPIDKeys.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Configured reports whether both keys are present.
func (v VapidConfig) Configured() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

// Validate checks that the key pair is present, decodes to a P-256 key pair,
// and that the public key belongs to the private key. The returned error
// wraps dispatch.ErrVapidNotConfigured or dispatch.ErrVapidInvalid.
func (v VapidConfig) Validate() error {
	if !v.Configured() {
		return dispatch.ErrVapidNotConfigured
	}
	if v.SubscriberEmail == "" {
		return fmt.Errorf("%w: subscriber contact is empty", dispatch.ErrVapidInvalid)
	}

	priv, err := decodeKey(v.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: private key: %v", dispatch.ErrVapidInvalid, err)
	}
	pub, err := decodeKey(v.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", dispatch.ErrVapidInvalid, err)
	}

	// Scalars with leading zero bytes may be encoded short.
	if len(priv) > 0 && len(priv) < 32 {
		priv = append(make([]byte, 32-len(priv)), priv...)
	}
	key, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("%w: private key: %v", dispatch.ErrVapidInvalid, err)
	}
	if !bytes.Equal(key.PublicKey().Bytes(), pub) {
		return fmt.Errorf("%w: public key does not match private key", dispatch.ErrVapidInvalid)
	}
	return nil
}

// decodeKey accepts unpadded and padded base64, URL or standard alphabet.
// It does not trim: the key is validated exactly as it will be sent.
func decodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("not base64")
}
