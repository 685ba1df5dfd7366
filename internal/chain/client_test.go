package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/escrowsync/internal/escrow"
)

// fakeEth is a hand-rolled EthClient double. Unset functions fail loudly so
// tests only exercise the paths they stub.
type fakeEth struct {
	callFn   func(ctx context.Context, call ethereum.CallMsg, blk *big.Int) ([]byte, error)
	filterFn func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	headFn   func(ctx context.Context) (uint64, error)
	headerFn func(ctx context.Context, n *big.Int) (*types.Header, error)
}

func (f *fakeEth) CallContract(ctx context.Context, call ethereum.CallMsg, blk *big.Int) ([]byte, error) {
	if f.callFn == nil {
		return nil, errors.New("unexpected CallContract")
	}
	return f.callFn(ctx, call, blk)
}

func (f *fakeEth) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if f.filterFn == nil {
		return nil, errors.New("unexpected FilterLogs")
	}
	return f.filterFn(ctx, q)
}

func (f *fakeEth) BlockNumber(ctx context.Context) (uint64, error) {
	if f.headFn == nil {
		return 0, errors.New("unexpected BlockNumber")
	}
	return f.headFn(ctx)
}

func (f *fakeEth) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	if f.headerFn == nil {
		return nil, errors.New("unexpected HeaderByNumber")
	}
	return f.headerFn(ctx, n)
}

func (f *fakeEth) Close() {}

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestClient(eth *fakeEth) *Client {
	if eth.headerFn == nil {
		eth.headerFn = func(_ context.Context, n *big.Int) (*types.Header, error) {
			return &types.Header{Number: n, Time: 1_700_000_000}, nil
		}
	}
	return NewClient(eth, testContract, nil)
}

// --- log construction helpers ---

func mustPackData(t *testing.T, event string, args ...interface{}) []byte {
	t.Helper()
	data, err := escrowABI.Events[event].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func baseLog(block uint64, index uint) types.Log {
	return types.Log{
		Address:     testContract,
		BlockNumber: block,
		BlockHash:   common.HexToHash("0xb10c"),
		TxHash:      common.HexToHash("0x7a57"),
		Index:       index,
	}
}

func paymentLog(t *testing.T, txID uint64, amount int64, party common.Address, block uint64, index uint) types.Log {
	lg := baseLog(block, index)
	lg.Topics = []common.Hash{eventID(escrow.KindPayment), uintTopic(txID)}
	lg.Data = mustPackData(t, "Payment", big.NewInt(amount), party)
	return lg
}

func metaEvidenceLog(t *testing.T, id uint64, uri string, block uint64, index uint) types.Log {
	lg := baseLog(block, index)
	lg.Topics = []common.Hash{eventID(escrow.KindMetaEvidence), uintTopic(id)}
	lg.Data = mustPackData(t, "MetaEvidence", uri)
	return lg
}

func hasToPayFeeLog(t *testing.T, txID uint64, party uint8, block uint64, index uint) types.Log {
	lg := baseLog(block, index)
	lg.Topics = []common.Hash{eventID(escrow.KindHasToPayFee), uintTopic(txID)}
	lg.Data = mustPackData(t, "HasToPayFee", party)
	return lg
}

func disputeLog(t *testing.T, arb common.Address, disputeID, metaID, groupID uint64, block uint64, index uint) types.Log {
	lg := baseLog(block, index)
	lg.Topics = []common.Hash{eventID(escrow.KindDispute), addrTopic(arb), uintTopic(disputeID)}
	lg.Data = mustPackData(t, "Dispute", new(big.Int).SetUint64(metaID), new(big.Int).SetUint64(groupID))
	return lg
}

func rulingLog(t *testing.T, arb common.Address, disputeID, ruling uint64, block uint64, index uint) types.Log {
	lg := baseLog(block, index)
	lg.Topics = []common.Hash{eventID(escrow.KindRuling), addrTopic(arb), uintTopic(disputeID)}
	lg.Data = mustPackData(t, "Ruling", new(big.Int).SetUint64(ruling))
	return lg
}

// --- tests ---

func TestReadTransaction(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver := common.HexToAddress("0x2222222222222222222222222222222222222222")

	eth := &fakeEth{
		callFn: func(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			require.Equal(t, testContract, *call.To)
			out, err := escrowABI.Methods["transactions"].Outputs.Pack(
				sender, receiver,
				big.NewInt(5000), big.NewInt(86400), big.NewInt(7),
				big.NewInt(100), big.NewInt(0),
				big.NewInt(1_699_999_000), uint8(3),
			)
			require.NoError(t, err)
			return out, nil
		},
	}
	c := newTestClient(eth)

	snap, err := c.ReadTransaction(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.ID)
	assert.Equal(t, sender.Hex(), snap.Sender)
	assert.Equal(t, receiver.Hex(), snap.Receiver)
	assert.Equal(t, int64(5000), snap.Amount.Int64())
	assert.Equal(t, uint64(86400), snap.TimeoutPayment)
	assert.Equal(t, uint64(7), snap.DisputeID)
	assert.Equal(t, int64(100), snap.SenderFee.Int64())
	assert.Equal(t, uint64(1_699_999_000), snap.LastInteraction)
	assert.Equal(t, uint8(3), snap.RawStatus)
	assert.True(t, snap.HasDispute())
}

func TestReadTransactionCallFailure(t *testing.T) {
	eth := &fakeEth{
		callFn: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			return nil, errors.New("execution reverted")
		},
	}
	c := newTestClient(eth)

	_, err := c.ReadTransaction(context.Background(), 99)
	assert.Error(t, err)
}

func TestTransactionCount(t *testing.T) {
	eth := &fakeEth{
		callFn: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			return escrowABI.Methods["getCountTransactions"].Outputs.Pack(big.NewInt(17))
		},
	}
	c := newTestClient(eth)

	n, err := c.TransactionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(17), n)
}

func TestQueryEventsDecodesPayments(t *testing.T) {
	party := common.HexToAddress("0x3333333333333333333333333333333333333333")

	var gotQuery ethereum.FilterQuery
	eth := &fakeEth{
		filterFn: func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			gotQuery = q
			return []types.Log{
				paymentLog(t, 5, 1200, party, 100, 2),
				paymentLog(t, 5, 300, party, 104, 0),
			}, nil
		},
	}
	c := newTestClient(eth)

	events, err := c.QueryEvents(context.Background(), escrow.KindPayment, 5, 90, 110)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Filter shape: signature topic plus the transaction ID at position 1.
	require.Len(t, gotQuery.Topics, 2)
	assert.Equal(t, eventID(escrow.KindPayment), gotQuery.Topics[0][0])
	assert.Equal(t, uintTopic(5), gotQuery.Topics[1][0])
	assert.Equal(t, uint64(90), gotQuery.FromBlock.Uint64())
	assert.Equal(t, uint64(110), gotQuery.ToBlock.Uint64())

	pay, ok := events[0].(escrow.PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(5), pay.TransactionID)
	assert.Equal(t, int64(1200), pay.Amount.Int64())
	assert.Equal(t, party.Hex(), pay.Party)
	assert.Equal(t, uint64(100), pay.BlockNumber)
	assert.Equal(t, uint(2), pay.LogIndex)
	assert.Equal(t, int64(1_700_000_000), pay.Timestamp)
}

func TestQueryEventsDisputeKeyPosition(t *testing.T) {
	arb := common.HexToAddress("0x4444444444444444444444444444444444444444")

	var gotQuery ethereum.FilterQuery
	eth := &fakeEth{
		filterFn: func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			gotQuery = q
			return []types.Log{disputeLog(t, arb, 7, 3, 3, 200, 1)}, nil
		},
	}
	c := newTestClient(eth)

	events, err := c.QueryEvents(context.Background(), escrow.KindDispute, 7, 0, 300)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Dispute ID filters on the second indexed slot; the arbitrator slot
	// stays a wildcard.
	require.Len(t, gotQuery.Topics, 3)
	assert.Nil(t, gotQuery.Topics[1])
	assert.Equal(t, uintTopic(7), gotQuery.Topics[2][0])

	disp, ok := events[0].(escrow.DisputeEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), disp.DisputeID)
	assert.Equal(t, uint64(3), disp.TransactionID)
	assert.Equal(t, uint64(3), disp.EvidenceGroupID)
	assert.Equal(t, arb.Hex(), disp.Arbitrator)
}

func TestQueryEventsZeroKeyFiltersClientSide(t *testing.T) {
	// Transaction 0 cannot be expressed as a topic filter, so the query
	// runs wide and non-matching records are dropped after decoding.
	var gotQuery ethereum.FilterQuery
	eth := &fakeEth{
		filterFn: func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			gotQuery = q
			return []types.Log{
				metaEvidenceLog(t, 0, "/ipfs/Qm0", 10, 0),
				metaEvidenceLog(t, 3, "/ipfs/Qm3", 11, 0),
			}, nil
		},
	}
	c := newTestClient(eth)

	events, err := c.QueryEvents(context.Background(), escrow.KindMetaEvidence, 0, 0, 20)
	require.NoError(t, err)

	require.Len(t, gotQuery.Topics, 1, "zero key must not add a topic filter")
	require.Len(t, events, 1)
	me := events[0].(escrow.MetaEvidenceEvent)
	assert.Equal(t, uint64(0), me.MetaEvidenceID)
	assert.Equal(t, "/ipfs/Qm0", me.URI)
}

func TestQueryEventsSkipsUndecodableLogs(t *testing.T) {
	party := common.HexToAddress("0x3333333333333333333333333333333333333333")
	bad := baseLog(101, 0)
	bad.Topics = []common.Hash{eventID(escrow.KindPayment), uintTopic(5)}
	bad.Data = []byte{0x01, 0x02} // truncated payload

	eth := &fakeEth{
		filterFn: func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{bad, paymentLog(t, 5, 50, party, 102, 0)}, nil
		},
	}
	c := newTestClient(eth)

	events, err := c.QueryEvents(context.Background(), escrow.KindPayment, 5, 0, 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(102), events[0].Base().BlockNumber)
}

func TestScanEventsMixedKinds(t *testing.T) {
	arb := common.HexToAddress("0x4444444444444444444444444444444444444444")
	party := common.HexToAddress("0x3333333333333333333333333333333333333333")

	eth := &fakeEth{
		filterFn: func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			require.Len(t, q.Topics, 1)
			require.Len(t, q.Topics[0], len(escrow.Kinds))
			return []types.Log{
				metaEvidenceLog(t, 9, "/ipfs/Qm9", 50, 0),
				paymentLog(t, 9, 400, party, 51, 1),
				hasToPayFeeLog(t, 9, 1, 52, 0),
				rulingLog(t, arb, 4, 2, 53, 0),
			}, nil
		},
	}
	c := newTestClient(eth)

	events, err := c.ScanEvents(context.Background(), 40, 60)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, escrow.KindMetaEvidence, events[0].Kind())
	assert.Equal(t, escrow.KindPayment, events[1].Kind())

	fee := events[2].(escrow.HasToPayFeeEvent)
	assert.Equal(t, escrow.FeePartyReceiver, fee.Party)

	ruling := events[3].(escrow.RulingEvent)
	assert.Equal(t, uint64(4), ruling.DisputeID)
	assert.Equal(t, escrow.RulingReceiverWins, ruling.Ruling)
	assert.Equal(t, escrow.UnknownTransaction, ruling.TransactionID)
}

func TestBlockTimeDegradesToZero(t *testing.T) {
	party := common.HexToAddress("0x3333333333333333333333333333333333333333")
	eth := &fakeEth{
		filterFn: func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{paymentLog(t, 5, 50, party, 102, 0)}, nil
		},
		headerFn: func(context.Context, *big.Int) (*types.Header, error) {
			return nil, errors.New("header not found")
		},
	}
	c := newTestClient(eth)

	events, err := c.QueryEvents(context.Background(), escrow.KindPayment, 5, 0, 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(0), events[0].Base().Timestamp)
}

func TestHeadBlock(t *testing.T) {
	eth := &fakeEth{
		headFn: func(context.Context) (uint64, error) { return 123456, nil },
	}
	c := newTestClient(eth)

	head, err := c.HeadBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), head)
}

func TestArbitratorInfo(t *testing.T) {
	arb := common.HexToAddress("0x4444444444444444444444444444444444444444")
	eth := &fakeEth{
		callFn: func(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			switch {
			case len(call.Data) >= 4 && string(call.Data[:4]) == string(escrowABI.Methods["arbitrator"].ID):
				return escrowABI.Methods["arbitrator"].Outputs.Pack(arb)
			default:
				return escrowABI.Methods["arbitratorExtraData"].Outputs.Pack([]byte{0x01})
			}
		},
	}
	c := newTestClient(eth)

	addr, extra, err := c.ArbitratorInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, arb.Hex(), addr)
	assert.Equal(t, []byte{0x01}, extra)
}

func TestArbitratorClientProbes(t *testing.T) {
	eth := &fakeEth{
		callFn: func(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			switch {
			case string(call.Data[:4]) == string(arbitratorABI.Methods["disputeStatus"].ID):
				return arbitratorABI.Methods["disputeStatus"].Outputs.Pack(uint8(1))
			case string(call.Data[:4]) == string(arbitratorABI.Methods["currentRuling"].ID):
				return arbitratorABI.Methods["currentRuling"].Outputs.Pack(big.NewInt(2))
			default:
				return arbitratorABI.Methods["appealPeriod"].Outputs.Pack(big.NewInt(1000), big.NewInt(2000))
			}
		},
	}
	a := NewArbitratorClient(eth, common.HexToAddress("0x4444444444444444444444444444444444444444"))
	ctx := context.Background()

	status, err := a.DisputeStatus(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), status)

	ruling, err := a.CurrentRuling(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ruling)

	start, end, err := a.AppealPeriod(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), start)
	assert.Equal(t, uint64(2000), end)
}
