package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Escrow contract surface. Invoice ids are bytes32 keys (UUID in the first
// 16 bytes, zero padded).
const escrowABIJSON = `[
	{"type":"function","name":"deposit","inputs":[{"name":"invoiceId","type":"bytes32"}]},
	{"type":"function","name":"confirmShipment","inputs":[{"name":"invoiceId","type":"bytes32"}]},
	{"type":"function","name":"releaseFunds","inputs":[{"name":"invoiceId","type":"bytes32"}]},
	{"type":"function","name":"raiseDispute","inputs":[{"name":"invoiceId","type":"bytes32"},{"name":"reason","type":"string"}]},
	{"type":"function","name":"refund","inputs":[{"name":"invoiceId","type":"bytes32"}]},
	{"type":"event","name":"Tokenized","inputs":[{"name":"invoiceId","type":"bytes32","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
	{"type":"event","name":"Deposited","inputs":[{"name":"invoiceId","type":"bytes32","indexed":true},{"name":"payer","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Released","inputs":[{"name":"invoiceId","type":"bytes32","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Disputed","inputs":[{"name":"invoiceId","type":"bytes32","indexed":true},{"name":"reason","type":"string","indexed":false}]}
]`

const fallbackGasLimit = 300_000

type EVMClientConfig struct {
	RPCURL             string
	ChainID            int64
	ContractAddress    string
	OperatorPrivateKey string
	ConfirmationPoll   time.Duration
}

// EVMClient talks to the escrow contract over JSON-RPC. It is stateless
// apart from the underlying transport and safe to share across requests.
type EVMClient struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	poll     time.Duration
	log      *zap.Logger
}

func NewEVMClient(ctx context.Context, cfg EVMClientConfig, log *zap.Logger) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid escrow contract address: %s", cfg.ContractAddress)
	}

	c := &EVMClient{
		client:   client,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		poll:     cfg.ConfirmationPoll,
		log:      log,
	}
	if c.poll <= 0 {
		c.poll = 2 * time.Second
	}

	if cfg.OperatorPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse operator key: %w", err)
		}
		c.key = key
		c.operator = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

func (c *EVMClient) Close() {
	c.client.Close()
}

func (c *EVMClient) Submit(ctx context.Context, action Action, params SubmitParams) (string, error) {
	if c.key == nil {
		return "", errors.New("no operator key configured")
	}

	data, err := c.packCall(action, params)
	if err != nil {
		return "", err
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.operator,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		// Estimation is advisory; a revert will still surface in the receipt.
		c.log.Debug("gas estimation failed, using fallback", zap.Error(err))
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTxRejected, err)
	}

	hash := signed.Hash().Hex()
	c.log.Info("ledger transaction submitted",
		zap.String("action", string(action)),
		zap.String("invoice_id", params.InvoiceID.String()),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

func (c *EVMClient) packCall(action Action, params SubmitParams) ([]byte, error) {
	key := InvoiceKey(params.InvoiceID)
	switch action {
	case ActionDispute:
		return c.abi.Pack(string(action), key, params.Reason)
	case ActionDeposit, ActionConfirmShipment, ActionRelease, ActionRefund:
		return c.abi.Pack(string(action), key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, action)
	}
}

// WaitForConfirmation polls for the transaction receipt until it appears or
// ctx expires. The caller bounds the wait with a deadline.
func (c *EVMClient) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Confirmation{
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *EVMClient) FilterEvents(ctx context.Context, eventType EventType, fromBlock, toBlock uint64) ([]Event, error) {
	ev, ok := c.abi.Events[string(eventType)]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", ErrUnsupported, eventType)
	}
	if fromBlock > toBlock {
		return nil, nil
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{ev.ID}},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs %s [%d,%d]: %w", eventType, fromBlock, toBlock, err)
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		event, err := decodeEventLog(c.abi, eventType, lg)
		if err != nil {
			c.log.Warn("skipping undecodable log",
				zap.String("event_type", string(eventType)),
				zap.Uint64("block", lg.BlockNumber),
				zap.Error(err),
			)
			continue
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].BlockNumber < events[j].BlockNumber
	})

	return events, nil
}

// decodeEventLog turns a raw contract log into a ledger Event. The invoice
// key is the first indexed topic; remaining fields come from the data blob.
func decodeEventLog(contractABI abi.ABI, eventType EventType, lg types.Log) (Event, error) {
	if len(lg.Topics) < 2 {
		return Event{}, errors.New("missing invoice key topic")
	}

	invoiceID, err := InvoiceFromKey(lg.Topics[1])
	if err != nil {
		return Event{}, err
	}

	values, err := contractABI.Unpack(string(eventType), lg.Data)
	if err != nil {
		return Event{}, fmt.Errorf("unpack %s: %w", eventType, err)
	}

	payload := make(map[string]string)
	var i int
	for _, input := range contractABI.Events[string(eventType)].Inputs {
		if input.Indexed {
			continue
		}
		if i >= len(values) {
			break
		}
		payload[input.Name] = formatABIValue(values[i])
		i++
	}

	return Event{
		Type:        eventType,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		InvoiceID:   invoiceID,
		Payload:     payload,
	}, nil
}

func formatABIValue(v any) string {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case common.Address:
		return t.Hex()
	case string:
		return t
	case []byte:
		return common.Bytes2Hex(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// InvoiceKey maps an invoice UUID to its fixed-width on-chain key.
func InvoiceKey(id uuid.UUID) common.Hash {
	var h common.Hash
	copy(h[:16], id[:])
	return h
}

// InvoiceFromKey recovers the UUID from an on-chain invoice key.
func InvoiceFromKey(h common.Hash) (uuid.UUID, error) {
	for _, b := range h[16:] {
		if b != 0 {
			return uuid.Nil, errors.New("invalid invoice key padding")
		}
	}
	return uuid.FromBytes(h[:16])
}
