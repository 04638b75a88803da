// Package dkim signs outgoing campaign messages for the sender's domain.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/foxzi/blast/internal/email"
)

// Signer signs messages for one domain and selector
type Signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
}

// NewSigner creates a signer from a loaded key
func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   strings.ToLower(domain),
		selector: selector,
	}
}

// Sign prepends a DKIM-Signature header to message
func (s *Signer) Sign(message []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim sign %s: %w", s.domain, err)
	}
	return out.Bytes(), nil
}

func (s *Signer) Domain() string   { return s.domain }
func (s *Signer) Selector() string { return s.selector }

// DomainKey configures signing for one sender domain
type DomainKey struct {
	Domain   string
	Selector string
	KeyFile  string
}

// Provider picks the signer matching the sender's domain
type Provider struct {
	signers map[string]*Signer
}

// NewProvider loads the key of every configured domain
func NewProvider(keys []DomainKey) (*Provider, error) {
	p := &Provider{signers: make(map[string]*Signer, len(keys))}
	for _, k := range keys {
		key, err := LoadPrivateKey(k.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("dkim key for %s: %w", k.Domain, err)
		}
		p.Add(NewSigner(key, k.Domain, k.Selector))
	}
	return p, nil
}

// Add registers s for its domain, replacing any previous signer
func (p *Provider) Add(s *Signer) {
	p.signers[s.domain] = s
}

// Len returns the number of signing domains
func (p *Provider) Len() int {
	return len(p.signers)
}

// SignFor signs message when a key exists for the domain of from.
// The boolean is false when no key matched and the message is returned as is.
func (p *Provider) SignFor(from string, message []byte) ([]byte, bool, error) {
	if p == nil {
		return message, false, nil
	}
	s, ok := p.signers[email.ExtractDomain(from)]
	if !ok {
		return message, false, nil
	}
	signed, err := s.Sign(message)
	if err != nil {
		return nil, false, err
	}
	return signed, true, nil
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA key from a PEM file
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM encoded RSA private key
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not RSA")
		}
		return rsaKey, nil
	}
	return nil, fmt.Errorf("unsupported key type: %s", block.Type)
}

// GenerateKey creates a 2048-bit RSA key and writes it to path as PKCS#1 PEM.
// It returns the TXT record name and value to publish.
func GenerateKey(path, domain, selector string) (name, record string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", err
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, out, 0600); err != nil {
		return "", "", fmt.Errorf("write key: %w", err)
	}

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	name = fmt.Sprintf("%s._domainkey.%s", selector, domain)
	record = "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub)
	return name, record, nil
}
