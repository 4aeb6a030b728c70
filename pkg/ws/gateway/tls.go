package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

const (
	EnvTLSCert = "TLS_CERT"
	EnvTLSKey  = "TLS_KEY"
	EnvTLSCA   = "TLS_CA"
)

// TLSConfigFromEnv загружает TLS конфигурацию из переменных окружения
// TLS_CERT - клиентский сертификат в base64
// TLS_KEY - приватный ключ в base64
// TLS_CA - CA сертификат шлюза в base64
func TLSConfigFromEnv() (*tls.Config, error) {
	certB64 := os.Getenv(EnvTLSCert)
	keyB64 := os.Getenv(EnvTLSKey)
	caB64 := os.Getenv(EnvTLSCA)

	if certB64 == "" || keyB64 == "" {
		return nil, errors.New("TLS_CERT and TLS_KEY environment variables are required")
	}

	certPEM, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TLS_CERT: %w", err)
	}

	keyPEM, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TLS_KEY: %w", err)
	}

	var caPEM []byte

	// CA необязателен: без него используются системные корни
	if caB64 != "" {
		caPEM, err = base64.StdEncoding.DecodeString(caB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TLS_CA: %w", err)
		}
	}

	return TLSConfigFromPEM(certPEM, keyPEM, caPEM)
}

// TLSConfigFromPEM builds a client TLS config. caPEM may be empty.
func TLSConfigFromPEM(certPEM, keyPEM, caPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if len(caPEM) > 0 {
		rootCAs := x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("failed to parse CA certificate")
		}

		cfg.RootCAs = rootCAs
	}

	return cfg, nil
}
