// Package auth implements wallet sign-in: a one-time challenge signed by the
// wallet's ed25519 key is exchanged for an HS256 session token.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"

	"github.com/nightstudio/paywall/internal/app/domain/user"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/pkg/logger"
)

var (
	errBadSignature = errors.New("signature does not match wallet")
	errBadWallet    = errors.New("wallet address is not a valid public key")
)

// UserConnector resolves a verified wallet to its user.
type UserConnector interface {
	ConnectWallet(ctx context.Context, wallet string) (user.User, error)
}

// Config tunes token and challenge lifetimes.
type Config struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
	NonceTTL time.Duration
}

// Claims are carried by session tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// Challenge is the message a wallet must sign.
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest carries a signed challenge. Signature is base58.
type LoginRequest struct {
	Wallet    string `json:"wallet_address"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Session is returned on successful sign-in.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      user.User `json:"user"`
}

type Service struct {
	users  UserConnector
	nonces NonceStore
	cfg    Config
	now    func() time.Time
	log    *logger.Logger
}

func New(users UserConnector, nonces NonceStore, cfg Config, log *logger.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("auth: signing secret required")
	}
	if nonces == nil {
		nonces = NewMemoryNonces()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "paywall"
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{users: users, nonces: nonces, cfg: cfg, now: time.Now, log: log}, nil
}

// Challenge issues a single-use nonce bound to wallet.
func (s *Service) Challenge(ctx context.Context, wallet string) (Challenge, error) {
	wallet = strings.TrimSpace(wallet)
	if _, err := publicKey(wallet); err != nil {
		return Challenge{}, apperrors.Validation(err.Error())
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, apperrors.Internal("generate nonce", err)
	}
	nonce := hex.EncodeToString(buf)
	now := s.now().UTC()

	if err := s.nonces.Put(ctx, wallet, nonce, s.cfg.NonceTTL); err != nil {
		return Challenge{}, apperrors.Internal("store nonce", err)
	}
	return Challenge{
		Nonce:     nonce,
		Message:   challengeMessage(wallet, nonce, now),
		ExpiresAt: now.Add(s.cfg.NonceTTL),
	}, nil
}

func challengeMessage(wallet, nonce string, issued time.Time) string {
	return fmt.Sprintf("Sign in to Paywall\n\nWallet: %s\nNonce: %s\nIssued At: %s",
		wallet, nonce, issued.Format(time.RFC3339))
}

// Login verifies a signed challenge, connects the wallet and issues a token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	wallet := strings.TrimSpace(req.Wallet)
	if wallet == "" || req.Nonce == "" || req.Message == "" || req.Signature == "" {
		return Session{}, apperrors.Validation("wallet_address, nonce, message and signature are required")
	}
	if !strings.Contains(req.Message, req.Nonce) {
		return Session{}, apperrors.Unauthorized("nonce not present in signed message")
	}
	if err := verify(wallet, req.Message, req.Signature); err != nil {
		s.log.WithField("wallet", wallet).Warnf("login rejected: %v", err)
		return Session{}, apperrors.Unauthorized("invalid signature")
	}

	// consumed only after the signature checks out so a forged attempt
	// cannot burn someone else's challenge
	ok, err := s.nonces.Consume(ctx, wallet, req.Nonce)
	if err != nil {
		return Session{}, apperrors.Internal("consume nonce", err)
	}
	if !ok {
		return Session{}, apperrors.Unauthorized("nonce expired or already used")
	}

	u, err := s.users.ConnectWallet(ctx, wallet)
	if err != nil {
		return Session{}, err
	}
	token, expires, err := s.IssueToken(u)
	if err != nil {
		return Session{}, apperrors.Internal("issue token", err)
	}
	s.log.WithField("user_id", u.ID).Info("wallet signed in")
	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

// IssueToken signs a session token for u.
func (s *Service) IssueToken(u user.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.cfg.TokenTTL)
	claims := &Claims{
		UserID: u.ID,
		Wallet: u.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	return signed, expires, err
}

// ParseToken validates a session token and returns its claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, apperrors.InvalidToken(nil)
	}
	return claims, nil
}

// ValidateToken returns the user id carried by token.
func (s *Service) ValidateToken(token string) (string, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func publicKey(wallet string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(wallet)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, errBadWallet
	}
	return ed25519.PublicKey(raw), nil
}

func verify(wallet, message, signature string) error {
	pub, err := publicKey(wallet)
	if err != nil {
		return err
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errBadSignature
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return errBadSignature
	}
	return nil
}
