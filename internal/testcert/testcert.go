// Package testcert generates a self-signed certificate for localhost so TLS
// tests need no fixtures on disk.
package testcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ServerName is the DNS name the certificate is issued for.
const ServerName = "localhost"

var (
	once    sync.Once
	cert    tls.Certificate
	pool    *x509.CertPool
	initErr error
)

func generate() {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		initErr = errors.Wrap(err, "generate key")
		return
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{ServerName},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		initErr = errors.Wrap(err, "create certificate")
		return
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		initErr = errors.Wrap(err, "parse certificate")
		return
	}
	cert = tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
	pool = x509.NewCertPool()
	pool.AddCert(leaf)
}

// ServerConfig returns a server config presenting the certificate.
func ServerConfig() (*tls.Config, error) {
	once.Do(generate)
	if initErr != nil {
		return nil, initErr
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// ClientConfig returns a client config that trusts only the certificate.
func ClientConfig() (*tls.Config, error) {
	once.Do(generate)
	if initErr != nil {
		return nil, initErr
	}
	return &tls.Config{RootCAs: pool, ServerName: ServerName}, nil
}
