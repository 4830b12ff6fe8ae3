package c2pa_test

import (
	"crypto/x509"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artorize/gateway/c2pa"
)

func TestSelfSignedSigner_Sign_ProducesValidCertificate(t *testing.T) {
	signer := c2pa.NewSelfSignedSigner()
	result, err := signer.Sign([]byte("source-bytes"), c2pa.ManifestConfig{
		ClaimGenerator: "artorize-gateway/1.0",
		PolicyURL:      "https://example.com/policy",
		LicenseID:      "lic-1",
		LicenseText:    "All rights reserved",
		OfferedBy:      "Example Artist",
	}, "asset-123")
	require.NoError(t, err)

	assert.Equal(t, "source-bytes", string(result.SignedImage))

	cert, err := x509.ParseCertificate(result.Certificate)
	require.NoError(t, err)
	assert.Equal(t, "artorize-gateway self-signed", cert.Subject.CommonName)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(result.Manifest, &doc))
	assert.Equal(t, "asset-123", doc["asset_id"])
	assert.Equal(t, "artorize-gateway/1.0", doc["claim_generator"])
}

func TestSelfSignedSigner_Sign_DefaultsClaimGenerator(t *testing.T) {
	signer := c2pa.NewSelfSignedSigner()
	result, err := signer.Sign([]byte("img"), c2pa.ManifestConfig{}, "asset-x")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(result.Manifest, &doc))
	assert.Equal(t, "artorize-gateway/1.0", doc["claim_generator"])
}

func TestSelfSignedSigner_Sign_EachCallGetsFreshCertificate(t *testing.T) {
	signer := c2pa.NewSelfSignedSigner()
	r1, err := signer.Sign([]byte("a"), c2pa.ManifestConfig{}, "id-1")
	require.NoError(t, err)
	r2, err := signer.Sign([]byte("b"), c2pa.ManifestConfig{}, "id-2")
	require.NoError(t, err)

	assert.NotEqual(t, string(r1.Certificate), string(r2.Certificate))
}
