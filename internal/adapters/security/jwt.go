package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const leeway = 30 * time.Second

// walletClaims carries the caller's base58 wallet identity in sub.
type walletClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier validates RS256 bearer tokens issued by the platform auth
// service and resolves the caller wallet from the sub claim.
type JWTVerifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

func NewJWTVerifier(publicKeyPEM, issuer string) (*JWTVerifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("jwt public key is required")
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTVerifier{publicKey: pub, issuer: issuer}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (ports.CallerClaims, error) {
	if raw == "" {
		return ports.CallerClaims{}, domain.ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &walletClaims{}, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*walletClaims)
	if !ok || !parsed.Valid {
		return ports.CallerClaims{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}
	wallet, err := domain.ParseIdentity(claims.Subject)
	if err != nil {
		return ports.CallerClaims{}, fmt.Errorf("%w: subject is not a wallet identity", domain.ErrUnauthorized)
	}

	out := ports.CallerClaims{Wallet: wallet}
	out.KeyID, _ = parsed.Header["kid"].(string)
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// TokenIssuer signs wallet tokens with an in-memory key pair. It backs local
// runs with auth.allow_ephemeral and the transport tests.
type TokenIssuer struct {
	kid        string
	issuer     string
	privateKey *rsa.PrivateKey
}

func NewEphemeralTokenIssuer(kid, issuer string) (*TokenIssuer, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{kid: kid, issuer: issuer, privateKey: privateKey}, nil
}

func (s *TokenIssuer) Sign(wallet domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, walletClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

func (s *TokenIssuer) Verifier() *JWTVerifier {
	return &JWTVerifier{publicKey: &s.privateKey.PublicKey, issuer: s.issuer}
}

// PublicKeyPEM exports the verification key in PKIX form.
func (s *TokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
