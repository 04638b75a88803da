package tls

import (
	"crypto/tls"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// renewBefore starts renewal well ahead of Let's Encrypt's 90 day expiry
const renewBefore = 30 * 24 * time.Hour

// acmeListener obtains certificates for the configured API hostnames on the
// first TLS handshake. Challenge answers HTTP-01 and redirects everything
// else to HTTPS.
func acmeListener(opts Options) *Listener {
	m := &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		Email:       opts.ACMEEmail,
		HostPolicy:  autocert.HostWhitelist(opts.ACMEDomains...),
		Cache:       autocert.DirCache(opts.ACMECacheDir),
		RenewBefore: renewBefore,
	}

	cfg := m.TLSConfig()
	cfg.MinVersion = tls.VersionTLS12

	return &Listener{
		Config:        cfg,
		Challenge:     m.HTTPHandler(nil),
		ChallengeAddr: opts.ChallengeAddr,
	}
}
