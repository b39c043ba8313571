package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned_DefaultHosts(t *testing.T) {
	cert, err := SelfSigned()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 2)
	assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	require.NoError(t, leaf.VerifyHostname("localhost"))
}

func TestConfig_KeyPairFiles(t *testing.T) {
	cert, err := SelfSigned("game.test")
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o600))
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))

	cfg, err := Config(Options{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	_, err = Config(Options{CertFile: filepath.Join(dir, "missing.pem"), KeyFile: keyFile})
	require.Error(t, err)
}

func TestConfig_Autocert(t *testing.T) {
	cfg, err := Config(Options{AutocertHost: "play.example.com", AutocertDir: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, cfg.GetCertificate)
	assert.Contains(t, cfg.NextProtos, "acme-tls/1")
}

func TestConfig_FallsBackToSelfSigned(t *testing.T) {
	cfg, err := Config(Options{})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
}
