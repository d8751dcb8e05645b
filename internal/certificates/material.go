// Package certificates provisions the root certificate authority and the leaf
// certificates served by the verification endpoint. The root authority is also
// the certificate that browser trust policies point at.
package certificates

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/crawlinknetworks/tray/internal/product"
)

const (
	DefaultCertificateAuthorityValidityDuration = 5 * 365 * 24 * time.Hour
	DefaultServerCertificateValidityDuration    = 398 * 24 * time.Hour
	DefaultRenewalWindowDuration                = 30 * 24 * time.Hour
	DefaultRSAKeyBitSize                        = 2048

	DefaultCertificateDirectoryName = "certificates"
	DefaultLeafCertificateFileName  = product.FileBase + "-server.pem"
	DefaultLeafPrivateKeyFileName   = product.FileBase + "-server-key.pem"
)

// DefaultAuthorityConfiguration returns the certificate authority parameters
// used when no overrides are supplied.
func DefaultAuthorityConfiguration(directoryPath string) CertificateAuthorityConfiguration {
	return CertificateAuthorityConfiguration{
		DirectoryPath:                    directoryPath,
		CertificateFileName:              product.FileBase + "-root-ca.pem",
		PrivateKeyFileName:               product.FileBase + "-root-ca-key.pem",
		DirectoryPermissions:             0o755,
		CertificateFilePermissions:       0o644,
		PrivateKeyFilePermissions:        0o600,
		RSAKeyBitSize:                    DefaultRSAKeyBitSize,
		CertificateValidityDuration:      DefaultCertificateAuthorityValidityDuration,
		CertificateRenewalWindowDuration: DefaultRenewalWindowDuration,
		SubjectCommonName:                product.CertificateAuthorityCommonName,
		SubjectOrganizationalUnit:        product.Name,
		SubjectOrganization:              product.Vendor,
	}
}

// DefaultServerConfiguration returns the leaf certificate parameters used when
// no overrides are supplied.
func DefaultServerConfiguration() ServerCertificateConfiguration {
	return ServerCertificateConfiguration{
		CertificateValidityDuration:      DefaultServerCertificateValidityDuration,
		CertificateRenewalWindowDuration: DefaultRenewalWindowDuration,
		LeafPrivateKeyBitSize:            DefaultRSAKeyBitSize,
		CertificateFilePermissions:       0o644,
		PrivateKeyFilePermissions:        0o600,
	}
}

// ParseCertificatePEM decodes the first certificate block in pemBytes.
func ParseCertificatePEM(pemBytes []byte) (*x509.Certificate, error) {
	return parseCertificateFromPEM(pemBytes)
}

// EncodeCertificateBase64 returns the DER bytes of a PEM certificate encoded as
// standard base64 without line breaks.
func EncodeCertificateBase64(pemBytes []byte) (string, error) {
	block := findPEMBlock(pemBytes, certificatePemBlockType)
	if block == nil {
		return "", errors.New("no certificate block found")
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}

func parseCertificateFromPEM(pemBytes []byte) (*x509.Certificate, error) {
	block := findPEMBlock(pemBytes, certificatePemBlockType)
	if block == nil {
		return nil, errors.New("no certificate block found")
	}
	certificate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate block: %w", err)
	}
	return certificate, nil
}

func parseRSAPrivateKeyFromPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block := findPEMBlock(pemBytes, privateKeyPemBlockType)
	if block == nil {
		return nil, errors.New("no private key block found")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key block: %w", err)
	}
	return privateKey, nil
}

func findPEMBlock(pemBytes []byte, blockType string) *pem.Block {
	remaining := pemBytes
	for {
		block, rest := pem.Decode(remaining)
		if block == nil {
			return nil
		}
		if block.Type == blockType {
			return block
		}
		remaining = rest
	}
}
