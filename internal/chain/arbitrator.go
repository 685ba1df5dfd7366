package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// ArbitratorClient probes the arbitrator contract for dispute state. It
// implements escrow.Arbitrator and escrow.AppealPeriodReader.
type ArbitratorClient struct {
	eth  EthClient
	addr common.Address
}

// NewArbitratorClient binds an EthClient to the arbitrator at addr.
func NewArbitratorClient(eth EthClient, addr common.Address) *ArbitratorClient {
	return &ArbitratorClient{eth: eth, addr: addr}
}

// Arbitrator returns an arbitrator client sharing this client's connection.
func (c *Client) Arbitrator(addr common.Address) *ArbitratorClient {
	return NewArbitratorClient(c.eth, addr)
}

func (a *ArbitratorClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := arbitratorABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := a.eth.CallContract(ctx, ethereum.CallMsg{To: &a.addr, Data: data}, nil)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := arbitratorABI.Unpack(method, out)
	if err != nil {
		metrics.LedgerCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	metrics.LedgerCallsTotal.WithLabelValues(method, "ok").Inc()
	return vals, nil
}

// DisputeStatus returns the raw dispute status code for the dispute.
func (a *ArbitratorClient) DisputeStatus(ctx context.Context, disputeID uint64) (uint8, error) {
	vals, err := a.call(ctx, "disputeStatus", new(big.Int).SetUint64(disputeID))
	if err != nil {
		return 0, err
	}
	code, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: disputeStatus: bad output")
	}
	return code, nil
}

// CurrentRuling returns the raw ruling code for the dispute. Zero means the
// arbitrator has not ruled (or refused to rule).
func (a *ArbitratorClient) CurrentRuling(ctx context.Context, disputeID uint64) (uint64, error) {
	vals, err := a.call(ctx, "currentRuling", new(big.Int).SetUint64(disputeID))
	if err != nil {
		return 0, err
	}
	ruling, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: currentRuling: bad output")
	}
	return ruling.Uint64(), nil
}

// AppealPeriod returns the appeal window bounds in unix seconds. Arbitrators
// without appeal support revert; the caller treats that as "no window".
func (a *ArbitratorClient) AppealPeriod(ctx context.Context, disputeID uint64) (uint64, uint64, error) {
	vals, err := a.call(ctx, "appealPeriod", new(big.Int).SetUint64(disputeID))
	if err != nil {
		return 0, 0, err
	}
	start, ok := vals[0].(*big.Int)
	if !ok {
		return 0, 0, fmt.Errorf("chain: appealPeriod: bad start output")
	}
	end, ok := vals[1].(*big.Int)
	if !ok {
		return 0, 0, fmt.Errorf("chain: appealPeriod: bad end output")
	}
	return start.Uint64(), end.Uint64(), nil
}
