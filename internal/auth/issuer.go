package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs development tokens for the relay
type Issuer struct {
	key      *rsa.PrivateKey
	keyID    string
	issuer   string
	audience string
}

// NewIssuer loads a PKCS1 private key, or generates a 2048-bit key when
// privateKeyPEM is empty
func NewIssuer(privateKeyPEM, keyID, issuer, audience string) (*Issuer, error) {
	var key *rsa.PrivateKey
	if privateKeyPEM != "" {
		block, _ := pem.Decode([]byte(privateKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM private key")
		}
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		key = k
	} else {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		key = k
	}
	return &Issuer{key: key, keyID: keyID, issuer: issuer, audience: audience}, nil
}

func (i *Issuer) KeyID() string { return i.keyID }

func (i *Issuer) PublicKey() *rsa.PublicKey { return &i.key.PublicKey }

// PublicKeyPEM returns the PKIX encoding accepted by JWT_PUBLIC_KEY
func (i *Issuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&i.key.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func (i *Issuer) JWKS() JSONWebKeySet {
	return JSONWebKeySet{Keys: []JSONWebKey{NewJSONWebKey(i.keyID, &i.key.PublicKey)}}
}

// Issue signs an RS256 token for ownerID valid for ttl
func (i *Issuer) Issue(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("tenant_id is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		TenantID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	token.Header["kid"] = i.keyID
	return token.SignedString(i.key)
}
