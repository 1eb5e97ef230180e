// Package turnrest mints short-lived TURN credentials that a coturn server
// configured with use-auth-secret accepts:
//
//	username   = <expiry unix seconds>:<prefix>:<participant>
//	credential = base64(hmac-sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoSecret  = errors.New("turnrest: shared secret is required")
	ErrBadTTL    = errors.New("turnrest: ttl must be at least one second")
	ErrBadPrefix = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrNoURLs    = errors.New("turnrest: at least one turn url is required")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	URLs           []string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.SharedSecret == "" {
		return ErrNoSecret
	}
	if c.TTL < time.Second {
		return ErrBadTTL
	}
	if c.UsernamePrefix == "" || strings.Contains(c.UsernamePrefix, ":") {
		return ErrBadPrefix
	}
	if len(c.URLs) == 0 {
		return ErrNoURLs
	}
	return nil
}

type Issuer struct {
	secret []byte
	ttl    int64
	prefix string
	urls   []string
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.SharedSecret),
		ttl:    int64(cfg.TTL / time.Second),
		prefix: cfg.UsernamePrefix,
		urls:   append([]string(nil), cfg.URLs...),
		now:    now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Issue mints credentials bound to participant. An empty participant gets a
// random one.
func (i *Issuer) Issue(participant string) (Credentials, error) {
	if participant == "" {
		participant = uuid.NewString()
	}
	if strings.Contains(participant, ":") {
		return Credentials{}, fmt.Errorf("turnrest: participant %q must not contain ':'", participant)
	}
	expires := i.now().UTC().Unix() + i.ttl
	username := strconv.FormatInt(expires, 10) + ":" + i.prefix + ":" + participant
	return Credentials{
		Username:   username,
		Credential: Sign(i.secret, username),
		Expires:    time.Unix(expires, 0).UTC(),
	}, nil
}

// ICEServer mints fresh credentials and returns them as a TURN entry for
// GET /webrtc/ice.
func (i *Issuer) ICEServer() (webrtc.ICEServer, error) {
	creds, err := i.Issue("")
	if err != nil {
		return webrtc.ICEServer{}, err
	}
	return webrtc.ICEServer{
		URLs:       append([]string(nil), i.urls...),
		Username:   creds.Username,
		Credential: creds.Credential,
	}, nil
}

// Sign computes the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
