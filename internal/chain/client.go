// Package chain implements the ledger read surface on top of a go-ethereum
// RPC client. It is the only package that sees raw logs and ABI-encoded call
// results; everything it hands out is decoded into internal/escrow types.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// EthClient abstracts the go-ethereum client for testing. *ethclient.Client
// satisfies it.
type EthClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// Client reads the escrow contract. It implements escrow.Ledger and
// escrow.LedgerScanner.
type Client struct {
	eth      EthClient
	contract common.Address
	logger   *slog.Logger

	// Block timestamps are immutable, so they are cached forever (reset
	// when the map grows past timeCacheMax to bound memory).
	timeMu    sync.Mutex
	timeCache map[uint64]int64
}

const timeCacheMax = 8192

// Dial connects to an RPC endpoint and returns a client bound to the escrow
// contract at addr.
func Dial(rpcURL, addr string, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("chain: invalid contract address %q", addr)
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return NewClient(eth, common.HexToAddress(addr), logger), nil
}

// NewClient wraps an existing EthClient. Tests use this with a fake.
func NewClient(eth EthClient, contract common.Address, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		eth:       eth,
		contract:  contract,
		logger:    logger.With("component", "chain"),
		timeCache: make(map[uint64]int64),
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// call packs method+args, executes an eth_call against the escrow contract,
// and unpacks the outputs.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := escrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := escrowABI.Unpack(method, out)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	metrics.LedgerCallsTotal.WithLabelValues(method, "ok").Inc()
	return vals, nil
}

// ReadTransaction returns a fresh snapshot of the transaction with the given
// ID. Reading a nonexistent ID fails at the contract level.
func (c *Client) ReadTransaction(ctx context.Context, id uint64) (*escrow.TransactionSnapshot, error) {
	vals, err := c.call(ctx, "transactions", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("chain: transactions(%d): unexpected output arity %d", id, len(vals))
	}

	snap := &escrow.TransactionSnapshot{ID: id}
	var ok bool
	var sender, receiver common.Address
	if sender, ok = vals[0].(common.Address); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad sender field", id)
	}
	if receiver, ok = vals[1].(common.Address); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad receiver field", id)
	}
	snap.Sender = sender.Hex()
	snap.Receiver = receiver.Hex()
	if snap.Amount, ok = vals[2].(*big.Int); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad amount field", id)
	}
	timeout, ok := vals[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad timeoutPayment field", id)
	}
	snap.TimeoutPayment = timeout.Uint64()
	disputeID, ok := vals[4].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad disputeId field", id)
	}
	snap.DisputeID = disputeID.Uint64()
	if snap.SenderFee, ok = vals[5].(*big.Int); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad senderFee field", id)
	}
	if snap.ReceiverFee, ok = vals[6].(*big.Int); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad receiverFee field", id)
	}
	last, ok := vals[7].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad lastInteraction field", id)
	}
	snap.LastInteraction = last.Uint64()
	if snap.RawStatus, ok = vals[8].(uint8); !ok {
		return nil, fmt.Errorf("chain: transactions(%d): bad status field", id)
	}
	return snap, nil
}

// TransactionCount returns the number of transactions ever created.
func (c *Client) TransactionCount(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, "getCountTransactions")
	if err != nil {
		return 0, err
	}
	count, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: getCountTransactions: bad output")
	}
	return count.Uint64(), nil
}

// HeadBlock returns the chain's current head block number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues("blockNumber", "error").Inc()
		return 0, fmt.Errorf("chain: head block: %w", err)
	}
	metrics.LedgerCallsTotal.WithLabelValues("blockNumber", "ok").Inc()
	return head, nil
}

// ArbitratorInfo returns the arbitrator address and extra data the escrow
// contract was deployed with.
func (c *Client) ArbitratorInfo(ctx context.Context) (string, []byte, error) {
	vals, err := c.call(ctx, "arbitrator")
	if err != nil {
		return "", nil, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return "", nil, fmt.Errorf("chain: arbitrator: bad output")
	}

	vals, err = c.call(ctx, "arbitratorExtraData")
	if err != nil {
		return "", nil, err
	}
	extra, ok := vals[0].([]byte)
	if !ok {
		return "", nil, fmt.Errorf("chain: arbitratorExtraData: bad output")
	}
	return addr.Hex(), extra, nil
}

// FeeTimeout reads the contract's fee timeout in seconds. Called once at
// startup; deployments on contracts without the accessor fall back to
// configuration.
func (c *Client) FeeTimeout(ctx context.Context) (int64, error) {
	vals, err := c.call(ctx, "feeTimeout")
	if err != nil {
		return 0, err
	}
	ft, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: feeTimeout: bad output")
	}
	return ft.Int64(), nil
}

// QueryEvents returns decoded events of one kind over [fromBlock, toBlock],
// filtered by the kind's native correlation key. A key of zero cannot be
// expressed as an indexed-topic filter distinguishable from "no filter", so
// the query runs unfiltered and the matching happens after decoding.
func (c *Client) QueryEvents(ctx context.Context, kind escrow.EventKind, filterKey, fromBlock, toBlock uint64) ([]escrow.Event, error) {
	name, known := eventName[kind]
	if !known {
		return nil, fmt.Errorf("chain: unknown event kind %q", kind)
	}

	topics := [][]common.Hash{{eventID(kind)}}
	if filterKey != 0 {
		keyHash := common.BigToHash(new(big.Int).SetUint64(filterKey))
		switch kind {
		case escrow.KindMetaEvidence, escrow.KindPayment, escrow.KindHasToPayFee:
			topics = append(topics, []common.Hash{keyHash})
		default:
			// Dispute, Evidence and Ruling key on the second indexed
			// argument; the first is the arbitrator address.
			topics = append(topics, nil, []common.Hash{keyHash})
		}
	}

	logs, err := c.filterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    topics,
	}, name)
	if err != nil {
		return nil, err
	}

	events := make([]escrow.Event, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.decodeLog(ctx, lg)
		if err != nil {
			c.logger.Warn("skipping undecodable log",
				"event", name,
				"block", lg.BlockNumber,
				"txHash", lg.TxHash.Hex(),
				"error", err)
			continue
		}
		if filterKey == 0 && nativeKey(ev) != 0 {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// ScanEvents returns all contract events over [fromBlock, toBlock],
// kinds mixed, in log order.
func (c *Client) ScanEvents(ctx context.Context, fromBlock, toBlock uint64) ([]escrow.Event, error) {
	sigs := make([]common.Hash, 0, len(escrow.Kinds))
	for _, kind := range escrow.Kinds {
		sigs = append(sigs, eventID(kind))
	}

	logs, err := c.filterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{sigs},
	}, "scan")
	if err != nil {
		return nil, err
	}

	events := make([]escrow.Event, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.decodeLog(ctx, lg)
		if err != nil {
			c.logger.Warn("skipping undecodable log",
				"block", lg.BlockNumber,
				"txHash", lg.TxHash.Hex(),
				"error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) filterLogs(ctx context.Context, q ethereum.FilterQuery, label string) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues("filterLogs", "error").Inc()
		return nil, fmt.Errorf("chain: filter %s logs: %w", label, err)
	}
	metrics.LedgerCallsTotal.WithLabelValues("filterLogs", "ok").Inc()
	return logs, nil
}

// blockTime resolves a block's timestamp via its header, cached. Returns 0
// when the header cannot be fetched; event ordering never depends on it.
func (c *Client) blockTime(ctx context.Context, block uint64) int64 {
	c.timeMu.Lock()
	if ts, ok := c.timeCache[block]; ok {
		c.timeMu.Unlock()
		return ts
	}
	c.timeMu.Unlock()

	hdr, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil || hdr == nil {
		c.logger.Debug("block header unavailable", "block", block, "error", err)
		return 0
	}
	ts := int64(hdr.Time) // #nosec G115 -- block timestamps fit in int64

	c.timeMu.Lock()
	if len(c.timeCache) >= timeCacheMax {
		c.timeCache = make(map[uint64]int64)
	}
	c.timeCache[block] = ts
	c.timeMu.Unlock()
	return ts
}

// nativeKey returns the correlation key an event carries on the wire.
func nativeKey(ev escrow.Event) uint64 {
	switch e := ev.(type) {
	case escrow.MetaEvidenceEvent:
		return e.MetaEvidenceID
	case escrow.PaymentEvent:
		return e.TransactionID
	case escrow.HasToPayFeeEvent:
		return e.TransactionID
	case escrow.DisputeEvent:
		return e.DisputeID
	case escrow.EvidenceEvent:
		return e.EvidenceGroupID
	case escrow.RulingEvent:
		return e.DisputeID
	default:
		return 0
	}
}
