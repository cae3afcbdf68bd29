// Package token mints and redeems short-lived download credentials. A token
// is scoped to exactly one document locator; possessing one grants nothing
// else. Issuance is synchronous and idempotent — tokens are independent, so
// issuing twice is safe.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"certvault/internal/certificate"
	"certvault/internal/objectstore"
	"certvault/internal/platform/metrics"
	"certvault/pkg/platform/sentinel"
)

const tokenIssuer = "certvault"

// Claims are the download token's JWT claims.
type Claims struct {
	CertificateID string `json:"certificate_id"`
	Locator       string `json:"locator"`
	jwt.RegisteredClaims
}

// Grant is a minted download credential. Token is empty when the storage
// backend signs its own URLs.
type Grant struct {
	Token       string
	DownloadURL string
	ExpiresAt   time.Time
}

// Issuer checks record state and mints scoped credentials. It holds no
// mutable state of its own and is safe for arbitrary concurrent use.
type Issuer struct {
	store      certificate.Store
	issued     IssuedStore
	signer     objectstore.URLSigner
	signingKey []byte
	ttl        time.Duration
	baseURL    string
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithURLSigner delegates URL minting to a storage backend with native
// signed URLs (GCS). Without it, the issuer mints a JWT redeemed at the
// built-in /downloads endpoint.
func WithURLSigner(signer objectstore.URLSigner) Option {
	return func(i *Issuer) {
		i.signer = signer
	}
}

// New constructs an Issuer.
func New(
	store certificate.Store,
	issued IssuedStore,
	signingKey string,
	ttl time.Duration,
	baseURL string,
	m *metrics.Metrics,
	opts ...Option,
) *Issuer {
	issuer := &Issuer{
		store:      store,
		issued:     issued,
		signingKey: []byte(signingKey),
		ttl:        ttl,
		baseURL:    baseURL,
		metrics:    m,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer
}

// IssueDownloadToken mints a credential for a verified record. It fails with
// sentinel.ErrNotFound for unknown ids and sentinel.ErrNotReady when the
// record has not reached Extracted.
func (i *Issuer) IssueDownloadToken(ctx context.Context, certificateID uuid.UUID) (*Grant, error) {
	record, err := i.store.GetByID(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if record.Status != certificate.StatusExtracted {
		return nil, fmt.Errorf("certificate %s is %s: %w", certificateID, record.Status, sentinel.ErrNotReady)
	}

	if i.signer != nil {
		url, expiresAt, err := i.signer.SignURL(ctx, record.DocumentLocator, i.ttl)
		if err != nil {
			return nil, fmt.Errorf("sign download url: %w", err)
		}
		i.metrics.TokensIssued.Inc()
		return &Grant{DownloadURL: url, ExpiresAt: expiresAt}, nil
	}

	now := i.clock()
	expiresAt := now.Add(i.ttl)
	jti := uuid.NewString()
	claims := Claims{
		CertificateID: certificateID.String(),
		Locator:       record.DocumentLocator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign download token: %w", err)
	}
	if err := i.issued.Save(ctx, jti, i.ttl); err != nil {
		return nil, fmt.Errorf("record issued token: %w", err)
	}

	i.metrics.TokensIssued.Inc()
	return &Grant{
		Token:       signed,
		DownloadURL: i.baseURL + "/downloads/" + signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// Redeem validates a presented token and returns its claims. Expired,
// revoked, or otherwise invalid tokens fail with sentinel.ErrExpired so the
// transport can reject them uniformly without leaking the reason.
func (i *Issuer) Redeem(ctx context.Context, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	}, jwt.WithTimeFunc(i.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("download token expired: %w", sentinel.ErrExpired)
		}
		return nil, fmt.Errorf("invalid download token: %w", sentinel.ErrExpired)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid download token claims: %w", sentinel.ErrExpired)
	}

	live, err := i.issued.Valid(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check issued token: %w", err)
	}
	if !live {
		return nil, fmt.Errorf("download token revoked or expired: %w", sentinel.ErrExpired)
	}
	return claims, nil
}
