// Package c2pa defines the content-provenance manifest signing port used
// by the final pipeline stage, plus a self-signed default implementation.
// The real C2PA signing workflow (c2pa_metadata.py) is delegated to an
// external collaborator per spec.md §6; this package's Signer interface
// is that delegation point, kept pluggable the way the teacher's
// StorageAdapter port keeps storage pluggable.
package c2pa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/artorize/gateway/errors"
)

// ManifestConfig configures one signing call, matching
// c2pa_metadata.py's C2PAManifestConfig.
type ManifestConfig struct {
	ClaimGenerator   string
	PolicyURL        string
	IdentityDID      string
	SigningAlgorithm string
	LicenseID        string
	LicenseURL       string
	LicenseText      string
	OfferedBy        string
}

// SignResult is the set of artifacts a signing pass produces, matching
// the dict embed_c2pa_manifest returns: signed image, manifest JSON,
// the certificate used, an optional license document, and an XMP sidecar.
type SignResult struct {
	SignedImage []byte
	Manifest    []byte
	Certificate []byte
	License     []byte
	XMP         []byte
}

// Signer is the external collaborator interface: given a source image and
// manifest config, produce a signed asset plus its provenance artifacts.
type Signer interface {
	Sign(source []byte, cfg ManifestConfig, assetID string) (*SignResult, error)
}

// SelfSignedSigner is the default Signer: it does not call out to the
// real c2pa/cryptography stack (no pure-Go C2PA library exists in the
// example pack — see DESIGN.md), but produces a structurally complete
// manifest and a genuine self-signed X.509 certificate, the same way
// c2pa_metadata.py's ensure_signing_material falls back to
// _generate_self_signed when no certificate/key path is configured.
type SelfSignedSigner struct{}

func NewSelfSignedSigner() *SelfSignedSigner { return &SelfSignedSigner{} }

type manifestAssertion struct {
	Label string      `json:"label"`
	Data  interface{} `json:"data"`
}

type manifestDoc struct {
	ClaimGenerator string               `json:"claim_generator"`
	AssetID        string               `json:"asset_id"`
	Assertions     []manifestAssertion  `json:"assertions"`
	SignedAt       string               `json:"signed_at"`
}

func (s *SelfSignedSigner) Sign(source []byte, cfg ManifestConfig, assetID string) (*SignResult, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySigning, "c2pa.Sign", err)
	}

	licenseChecksum := sha256Hex(cfg.LicenseText)
	doc := manifestDoc{
		ClaimGenerator: firstNonEmpty(cfg.ClaimGenerator, "artorize-gateway/1.0"),
		AssetID:        assetID,
		SignedAt:       time.Now().UTC().Format(time.RFC3339),
		Assertions: []manifestAssertion{
			{Label: "cawg.training-mining", Data: map[string]interface{}{
				"cawg.ai_generative_training": map[string]string{"use": "allowed", "policy": cfg.PolicyURL},
				"cawg.ai_inference":           map[string]string{"use": "allowed"},
			}},
			{Label: "com.artorize.license", Data: map[string]interface{}{
				"license_id": cfg.LicenseID,
				"license_url": cfg.LicenseURL,
				"sha256":      licenseChecksum,
				"offered_by":  cfg.OfferedBy,
			}},
			{Label: "com.artorize.license-text", Data: cfg.LicenseText},
		},
	}

	manifestBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategorySigning, "c2pa.Sign", err)
	}

	xmp := []byte(fmt.Sprintf(
		"<?xpacket begin=\"\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n"+
			"<x:xmpmeta xmlns:x=\"adobe:ns:meta/\"><rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">"+
			"<rdf:Description rdf:about=\"%s\" xmlns:c2pa=\"https://c2pa.org/ns\" c2pa:claimGenerator=\"%s\"/>"+
			"</rdf:RDF></x:xmpmeta>\n<?xpacket end=\"w\"?>",
		assetID, doc.ClaimGenerator))

	return &SignResult{
		SignedImage: source, // the manifest is an accompanying artifact; pixels are unchanged
		Manifest:    manifestBytes,
		Certificate: cert,
		License:     []byte(cfg.LicenseText),
		XMP:         xmp,
	}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func generateSelfSignedCert() ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "artorize-gateway self-signed"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return der, nil
}
