package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/utils"
	"gorm.io/gorm"
)

const siweHeaderSuffix = " wants you to sign in with your Ethereum account:"

// SIWEMessage is a parsed EIP-4361 message
type SIWEMessage struct {
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
}

// ParseSIWEMessage parses the fields needed to verify a sign-in
func ParseSIWEMessage(raw string) (*SIWEMessage, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) < 2 || !strings.HasSuffix(lines[0], siweHeaderSuffix) {
		return nil, errors.New("missing sign-in header")
	}

	msg := &SIWEMessage{Domain: strings.TrimSuffix(lines[0], siweHeaderSuffix)}
	address := strings.TrimSpace(lines[1])
	if !common.IsHexAddress(address) {
		return nil, errors.New("invalid address")
	}
	msg.Address = common.HexToAddress(address)

	for _, line := range lines[2:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			if line != "" && msg.Statement == "" && msg.URI == "" {
				msg.Statement = line
			}
			continue
		}

		var err error
		switch key {
		case "URI":
			msg.URI = value
		case "Version":
			msg.Version = value
		case "Chain ID":
			msg.ChainID, err = strconv.ParseInt(value, 10, 64)
		case "Nonce":
			msg.Nonce = value
		case "Issued At":
			msg.IssuedAt, err = time.Parse(time.RFC3339, value)
		case "Expiration Time":
			var t time.Time
			t, err = time.Parse(time.RFC3339, value)
			msg.ExpirationTime = &t
		case "Not Before":
			var t time.Time
			t, err = time.Parse(time.RFC3339, value)
			msg.NotBefore = &t
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch {
	case msg.URI == "":
		return nil, errors.New("missing URI")
	case msg.Version != "1":
		return nil, errors.New("unsupported version")
	case msg.Nonce == "":
		return nil, errors.New("missing nonce")
	case msg.IssuedAt.IsZero():
		return nil, errors.New("missing issued at")
	}
	return msg, nil
}

// RecoverAddress returns the account that produced an EIP-191 personal_sign
// signature over message
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("invalid signature length")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func siweNonceKey(nonce string) string { return "siwe:nonce:" + nonce }

// Nonce issues a single-use nonce for a sign-in message
func (s *Service) Nonce(ctx context.Context) (string, error) {
	nonce, err := utils.GenerateSecureToken(16)
	if err != nil {
		return "", apperror.Internal("failed to generate nonce", err)
	}
	if err := s.rdb.Set(ctx, siweNonceKey(nonce), "1", s.siwe.NonceTTL).Err(); err != nil {
		return "", apperror.Internal("failed to store nonce", err)
	}
	return nonce, nil
}

// SIWERequest carries a signed sign-in message
type SIWERequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerifySIWE checks a signed message and signs in the wallet owner,
// creating a user for unseen addresses
func (s *Service) VerifySIWE(ctx context.Context, req SIWERequest) (*AuthResponse, error) {
	msg, err := ParseSIWEMessage(req.Message)
	if err != nil {
		return nil, apperror.BadRequest(fmt.Sprintf("invalid message: %v", err))
	}
	if msg.Domain != s.siwe.Domain {
		return nil, apperror.Unauthorized("domain mismatch")
	}
	now := s.now()
	if msg.ExpirationTime != nil && !now.Before(*msg.ExpirationTime) {
		return nil, apperror.Unauthorized("message expired")
	}
	if msg.NotBefore != nil && now.Before(*msg.NotBefore) {
		return nil, apperror.Unauthorized("message not yet valid")
	}

	signer, err := RecoverAddress(req.Message, req.Signature)
	if err != nil || signer != msg.Address {
		return nil, apperror.Unauthorized("invalid signature")
	}

	deleted, err := s.rdb.Del(ctx, siweNonceKey(msg.Nonce)).Result()
	if err != nil {
		return nil, apperror.Internal("failed to consume nonce", err)
	}
	if deleted == 0 {
		return nil, apperror.Unauthorized("invalid or expired nonce")
	}

	address := strings.ToLower(msg.Address.Hex())
	var user models.User
	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("wallet_address = ?", address).First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Internal("failed to load user", err)
		}

		user = models.User{
			Email:         placeholderEmail("wallet", address),
			WalletAddress: &address,
		}
		created = true
		return apperror.FromDB(tx.Create(&user).Error, "user not found")
	})
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, &user, created)
}
