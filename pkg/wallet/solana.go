package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-console/config"
	"dex-console/pkg/chain"
	"dex-console/pkg/logger"
	"dex-console/pkg/money"
)

const lamportsDecimals = 9

// SolanaRPC is the subset of rpc.Client the wallet uses
type SolanaRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// SolanaOption configures a SolanaWallet
type SolanaOption func(*SolanaWallet)

// WithSolanaRPC replaces the RPC client
func WithSolanaRPC(c SolanaRPC) SolanaOption {
	return func(s *SolanaWallet) { s.client = c }
}

// WithSolanaApprover sets the approval prompt consulted before every signature
func WithSolanaApprover(a Approver) SolanaOption {
	return func(s *SolanaWallet) { s.approver = a }
}

// SolanaWallet is a local-key wallet for Solana
type SolanaWallet struct {
	mu         sync.Mutex
	config     config.SolanaConfig
	client     SolanaRPC
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	approver   Approver
	log        *zap.Logger
	connected  bool
}

// NewSolanaWallet creates a new Solana wallet
func NewSolanaWallet(cfg config.SolanaConfig, opts ...SolanaOption) (*SolanaWallet, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for Solana")
	}

	// Parse private key (Base58 encoded)
	privateKey, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	s := &SolanaWallet{
		config:     cfg,
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		log:        logger.Named("wallet.solana"),
		connected:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		if cfg.RPCUrl == "" {
			return nil, fmt.Errorf("RPC URL not configured for Solana")
		}
		s.client = rpc.New(cfg.RPCUrl)
	}

	s.log.Info("Solana wallet connected", zap.String("address", s.publicKey.String()))
	return s, nil
}

func (s *SolanaWallet) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SolanaWallet) Address() string {
	return s.publicKey.String()
}

func (s *SolanaWallet) ChainID() string {
	c, _ := chain.ByName("solana")
	return c.ID
}

// SwitchChain only accepts Solana itself
func (s *SolanaWallet) SwitchChain(ctx context.Context, chainID string) error {
	if chainID != s.ChainID() {
		return &Error{Code: CodeUnsupported, Message: "solana wallet cannot switch to chain " + chainID}
	}
	return nil
}

// NativeBalance returns the SOL balance
func (s *SolanaWallet) NativeBalance(ctx context.Context) (money.Amount, error) {
	balance, err := s.client.GetBalance(ctx, s.publicKey, s.commitment())
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return money.FromBaseUnits(decimal.NewFromInt(int64(balance.Value)), lamportsDecimals), nil
}

// TokenBalance returns the SPL balance held in the associated token account for mint
func (s *SolanaWallet) TokenBalance(ctx context.Context, token string) (money.Amount, error) {
	sol, _ := chain.ByName("solana")
	if sol.IsNative(token) {
		return s.NativeBalance(ctx)
	}

	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return money.Amount{}, fmt.Errorf("invalid token mint address: %w", err)
	}
	account, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}

	res, err := s.client.GetTokenAccountBalance(ctx, account, s.commitment())
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to get token balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return money.Zero, nil
	}
	units, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to parse token balance: %w", err)
	}
	return money.FromBaseUnits(units, int32(res.Value.Decimals)), nil
}

// SignTransaction signs a base64 serialized transaction built by the backend.
// The payload is either a JSON string or an object with a "transaction" field.
func (s *SolanaWallet) SignTransaction(ctx context.Context, payload json.RawMessage) (string, error) {
	encoded, err := solanaPayload(payload)
	if err != nil {
		return "", &Error{Code: CodeInvalidParams, Message: "malformed transaction", Err: err}
	}

	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return "", &Error{Code: CodeInvalidParams, Message: "failed to decode transaction", Err: err}
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.publicKey) {
		return "", &Error{Code: CodeInvalidParams, Message: "transaction fee payer is not this wallet"}
	}

	if err := approve(ctx, s.approver, SignRequest{
		ChainID: s.ChainID(),
		Account: s.publicKey.String(),
		Payload: payload,
	}); err != nil {
		return "", err
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "failed to sign transaction", Err: err}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "failed to encode transaction", Err: err}
	}

	s.log.Info("Transaction signed", zap.String("signature", tx.Signatures[0].String()))
	return base64.StdEncoding.EncodeToString(raw), nil
}

func solanaPayload(payload json.RawMessage) (string, error) {
	payload = bytes.TrimSpace(payload)
	var encoded string
	if len(payload) > 0 && payload[0] == '"' {
		if err := json.Unmarshal(payload, &encoded); err != nil {
			return "", err
		}
	} else {
		var obj struct {
			Transaction           string `json:"transaction"`
			SerializedTransaction string `json:"serializedTransaction"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return "", err
		}
		encoded = obj.Transaction
		if encoded == "" {
			encoded = obj.SerializedTransaction
		}
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", fmt.Errorf("empty transaction")
	}
	return encoded, nil
}

// commitment returns the commitment level from config
func (s *SolanaWallet) commitment() rpc.CommitmentType {
	switch strings.ToLower(s.config.Commitment) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// Close marks the wallet disconnected; the RPC client holds no connection
func (s *SolanaWallet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}
