package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-console/config"
	"dex-console/pkg/chain"
	"dex-console/pkg/logger"
	"dex-console/pkg/money"
)

const CodeInvalidParams = "-32602"

// ERC20 read-only ABI
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// EVMBackend is the subset of ethclient.Client the wallet uses
type EVMBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Close()
}

// EVMDialer opens a backend for an RPC URL
type EVMDialer func(rpcURL string) (EVMBackend, error)

func dialEthclient(rpcURL string) (EVMBackend, error) {
	return ethclient.Dial(rpcURL)
}

// EVMOption configures an EVMWallet
type EVMOption func(*EVMWallet)

// WithEVMDialer replaces the RPC dialer
func WithEVMDialer(d EVMDialer) EVMOption {
	return func(w *EVMWallet) { w.dial = d }
}

// WithEVMApprover sets the approval prompt consulted before every signature
func WithEVMApprover(a Approver) EVMOption {
	return func(w *EVMWallet) { w.approver = a }
}

// EVMWallet is a local-key wallet for EVM-compatible chains
type EVMWallet struct {
	mu        sync.Mutex
	networks  map[string]config.EVMNetwork
	chain     chain.Chain
	network   config.EVMNetwork
	client    EVMBackend
	key       *ecdsa.PrivateKey
	address   common.Address
	dial      EVMDialer
	approver  Approver
	erc20     abi.ABI
	log       *zap.Logger
	connected bool
}

// NewEVMWallet connects to the configured network for chainName
func NewEVMWallet(networks map[string]config.EVMNetwork, chainName string, opts ...EVMOption) (*EVMWallet, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	w := &EVMWallet{
		networks: networks,
		dial:     dialEthclient,
		erc20:    parsedABI,
		log:      logger.Named("wallet.evm"),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.connect(chainName); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *EVMWallet) connect(chainName string) error {
	c, err := chain.ByName(chainName)
	if err != nil {
		return err
	}
	if c.Family != chain.FamilyEVM {
		return fmt.Errorf("%s is not an EVM chain", c.Name)
	}

	network, exists := w.networks[c.Name]
	if !exists {
		return fmt.Errorf("network %s not configured", c.Name)
	}
	if network.RPCUrl == "" {
		return fmt.Errorf("RPC URL not configured for network %s", c.Name)
	}
	if network.PrivateKey == "" {
		return fmt.Errorf("private key not configured for network %s", c.Name)
	}
	if network.ChainID == 0 {
		id, _ := strconv.ParseInt(c.ID, 10, 64)
		network.ChainID = id
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(network.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	client, err := w.dial(network.RPCUrl)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	if w.client != nil {
		w.client.Close()
	}
	w.chain = c
	w.network = network
	w.client = client
	w.key = privateKey
	w.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	w.connected = true

	w.log.Info("EVM wallet connected",
		zap.String("chain", c.Name),
		zap.Int64("chain_id", network.ChainID),
		zap.String("address", w.address.Hex()))
	return nil
}

func (w *EVMWallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *EVMWallet) Address() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address.Hex()
}

func (w *EVMWallet) ChainID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strconv.FormatInt(w.network.ChainID, 10)
}

// SwitchChain reconnects to the network registered under chainID
func (w *EVMWallet) SwitchChain(ctx context.Context, chainID string) error {
	name, err := chain.NameOf(chainID)
	if err != nil {
		return &Error{Code: CodeUnsupported, Message: "unrecognized chain " + chainID, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if name == w.chain.Name {
		return nil
	}
	if err := w.connect(name); err != nil {
		return &Error{Code: CodeUnsupported, Message: "cannot switch to " + name, Err: err}
	}
	return nil
}

// NativeBalance returns the account balance in whole native units
func (w *EVMWallet) NativeBalance(ctx context.Context) (money.Amount, error) {
	w.mu.Lock()
	client, account, connected := w.client, w.address, w.connected
	w.mu.Unlock()
	if !connected {
		return money.Amount{}, ErrNotConnected
	}

	balance, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return money.FromBaseUnits(decimal.NewFromBigInt(balance, 0), 18), nil
}

// TokenBalance returns the balance of an ERC-20 token, or the native balance
// when token names the chain's native asset
func (w *EVMWallet) TokenBalance(ctx context.Context, token string) (money.Amount, error) {
	w.mu.Lock()
	client, account, c, connected := w.client, w.address, w.chain, w.connected
	w.mu.Unlock()
	if !connected {
		return money.Amount{}, ErrNotConnected
	}

	if c.IsNative(token) {
		return w.NativeBalance(ctx)
	}
	if !c.IsValidAddress(token) {
		return money.Amount{}, fmt.Errorf("invalid token contract address: %s", token)
	}
	tokenAddress := common.HexToAddress(token)

	balance, err := w.callUint(ctx, client, tokenAddress, "balanceOf", account)
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to get token balance: %w", err)
	}
	decimals, err := w.callUint(ctx, client, tokenAddress, "decimals")
	if err != nil {
		return money.Amount{}, fmt.Errorf("failed to get token decimals: %w", err)
	}
	return money.FromBaseUnits(decimal.NewFromBigInt(balance, 0), int32(decimals.Int64())), nil
}

func (w *EVMWallet) callUint(ctx context.Context, client EVMBackend, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := w.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return new(big.Int).SetBytes(result), nil
}

// evmTxRequest is the backend-built transaction in JSON-RPC form
type evmTxRequest struct {
	From                 string          `json:"from"`
	To                   string          `json:"to"`
	Data                 string          `json:"data"`
	Input                string          `json:"input"`
	Value                json.RawMessage `json:"value"`
	Gas                  json.RawMessage `json:"gas"`
	GasLimit             json.RawMessage `json:"gasLimit"`
	GasPrice             json.RawMessage `json:"gasPrice"`
	MaxFeePerGas         json.RawMessage `json:"maxFeePerGas"`
	MaxPriorityFeePerGas json.RawMessage `json:"maxPriorityFeePerGas"`
	Nonce                json.RawMessage `json:"nonce"`
	ChainID              json.RawMessage `json:"chainId"`
}

// SignTransaction signs the backend-built transaction and returns the RLP blob as 0x-hex
func (w *EVMWallet) SignTransaction(ctx context.Context, payload json.RawMessage) (string, error) {
	w.mu.Lock()
	client, key, account, network, connected := w.client, w.key, w.address, w.network, w.connected
	w.mu.Unlock()

	if !connected {
		return "", &Error{Code: CodeInternal, Message: "cannot sign", Err: ErrNotConnected}
	}

	var req evmTxRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", &Error{Code: CodeInvalidParams, Message: "malformed transaction", Err: err}
	}

	tx, err := w.prepare(ctx, client, account, network.ChainID, req)
	if err != nil {
		return "", err
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	if err := approve(ctx, w.approver, SignRequest{
		ChainID: strconv.FormatInt(network.ChainID, 10),
		Account: account.Hex(),
		To:      to,
		Value:   tx.Value().String(),
		Payload: payload,
	}); err != nil {
		return "", err
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(network.ChainID)), key)
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "failed to sign transaction", Err: err}
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", &Error{Code: CodeInternal, Message: "failed to encode transaction", Err: err}
	}

	w.log.Info("Transaction signed", zap.String("hash", signedTx.Hash().Hex()))
	return hexutil.Encode(raw), nil
}

func (w *EVMWallet) prepare(ctx context.Context, client EVMBackend, account common.Address, chainID int64, req evmTxRequest) (*types.Transaction, error) {
	invalid := func(format string, args ...interface{}) error {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
	}

	if req.From != "" && !strings.EqualFold(req.From, account.Hex()) {
		return nil, invalid("transaction from %s does not match account %s", req.From, account.Hex())
	}
	if id, ok, err := quantity(req.ChainID); err != nil {
		return nil, invalid("chainId: %v", err)
	} else if ok && id.Int64() != chainID {
		return nil, invalid("transaction chainId %s does not match wallet chain %d", id, chainID)
	}
	if !common.IsHexAddress(req.To) {
		return nil, invalid("invalid recipient address: %q", req.To)
	}
	toAddress := common.HexToAddress(req.To)

	input := req.Data
	if input == "" {
		input = req.Input
	}
	var data []byte
	if input != "" && input != "0x" {
		var err error
		if data, err = hexutil.Decode(input); err != nil {
			return nil, invalid("data: %v", err)
		}
	}

	value, _, err := quantity(req.Value)
	if err != nil {
		return nil, invalid("value: %v", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	nonceBig, ok, err := quantity(req.Nonce)
	if err != nil {
		return nil, invalid("nonce: %v", err)
	}
	var nonce uint64
	if ok {
		nonce = nonceBig.Uint64()
	} else if nonce, err = client.PendingNonceAt(ctx, account); err != nil {
		return nil, &Error{Code: CodeInternal, Message: "failed to get nonce", Err: err}
	}

	gasRaw := req.Gas
	if len(gasRaw) == 0 {
		gasRaw = req.GasLimit
	}
	gasBig, ok, err := quantity(gasRaw)
	if err != nil {
		return nil, invalid("gas: %v", err)
	}
	var gasLimit uint64
	if ok {
		gasLimit = gasBig.Uint64()
	} else {
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{From: account, To: &toAddress, Value: value, Data: data})
		if err != nil {
			return nil, &Error{Code: CodeInternal, Message: "failed to estimate gas", Err: err}
		}
		gasLimit = estimated * 120 / 100 // Add 20% buffer
	}

	maxFee, dynamic, err := quantity(req.MaxFeePerGas)
	if err != nil {
		return nil, invalid("maxFeePerGas: %v", err)
	}
	if dynamic {
		tip, ok, err := quantity(req.MaxPriorityFeePerGas)
		if err != nil {
			return nil, invalid("maxPriorityFeePerGas: %v", err)
		}
		if !ok {
			tip = new(big.Int).Set(maxFee)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(chainID),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: maxFee,
			Gas:       gasLimit,
			To:        &toAddress,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, ok, err := quantity(req.GasPrice)
	if err != nil {
		return nil, invalid("gasPrice: %v", err)
	}
	if !ok {
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, &Error{Code: CodeInternal, Message: "failed to get gas price", Err: err}
		}
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &toAddress,
		Value:    value,
		Data:     data,
	}), nil
}

// quantity parses a JSON number, a decimal string or a 0x-hex string
func quantity(raw json.RawMessage) (*big.Int, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, false, nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false, nil
		}
	}

	if s == "0x" || s == "0X" {
		return new(big.Int), true, nil
	}

	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, false, fmt.Errorf("invalid quantity %q", s)
	}
	return n, true, nil
}

// Close closes the client connection
func (w *EVMWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Close()
	}
	w.connected = false
}
