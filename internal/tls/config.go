// Package tls sets up certificates for the campaign API listener, either
// from PEM files or through ACME.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Options selects the certificate source
type Options struct {
	CertFile string
	KeyFile  string

	ACME          bool
	ACMEEmail     string
	ACMEDomains   []string
	ACMECacheDir  string
	ChallengeAddr string
}

// Listener is the TLS material for the API server
type Listener struct {
	Config *tls.Config
	// Challenge serves ACME HTTP-01 challenges, nil for manual certificates
	Challenge http.Handler
	// ChallengeAddr is where Challenge should listen
	ChallengeAddr string
}

// ErrNoCertificate is returned by Setup when no source is configured
var ErrNoCertificate = errors.New("no TLS certificate source configured")

// Setup builds the listener TLS configuration from opts
func Setup(opts Options) (*Listener, error) {
	switch {
	case opts.ACME:
		return acmeListener(opts), nil
	case opts.CertFile != "" && opts.KeyFile != "":
		cfg, err := LoadCertificate(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		return &Listener{Config: cfg}, nil
	}
	return nil, ErrNoCertificate
}

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateInfo describes a certificate file
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// ReadCertificateInfo reads the first certificate of a PEM file
func ReadCertificateInfo(certFile string, now time.Time) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(cert.NotAfter.Sub(now).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}, nil
}
