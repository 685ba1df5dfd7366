package escrow

import (
	"context"
	"errors"
	"sync"
)

var errNoRecord = errors.New("no such transaction")

// Hand-rolled ledger double. Zero value behaves like an empty, healthy
// chain; tests poke the fields they care about.
type fakeLedger struct {
	mu sync.Mutex

	snapshots map[uint64]*TransactionSnapshot
	snapErr   error

	count    uint64
	countErr error

	head    uint64
	headErr error

	events   map[EventKind][]Event
	queryErr map[EventKind]error

	arbAddr    string
	arbExtra   []byte
	arbInfoErr error

	queries []queryCall
	reads   []uint64
}

type queryCall struct {
	kind      EventKind
	key       uint64
	fromBlock uint64
	toBlock   uint64
}

func (f *fakeLedger) ReadTransaction(_ context.Context, id uint64) (*TransactionSnapshot, error) {
	f.mu.Lock()
	f.reads = append(f.reads, id)
	f.mu.Unlock()

	if f.snapErr != nil {
		return nil, f.snapErr
	}
	snap, ok := f.snapshots[id]
	if !ok {
		return nil, errNoRecord
	}
	cp := *snap
	return &cp, nil
}

func (f *fakeLedger) TransactionCount(context.Context) (uint64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

func (f *fakeLedger) QueryEvents(_ context.Context, kind EventKind, key, fromBlock, toBlock uint64) ([]Event, error) {
	f.mu.Lock()
	f.queries = append(f.queries, queryCall{kind: kind, key: key, fromBlock: fromBlock, toBlock: toBlock})
	f.mu.Unlock()

	if err := f.queryErr[kind]; err != nil {
		return nil, err
	}
	return f.events[kind], nil
}

func (f *fakeLedger) HeadBlock(context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeLedger) ArbitratorInfo(context.Context) (string, []byte, error) {
	if f.arbInfoErr != nil {
		return "", nil, f.arbInfoErr
	}
	return f.arbAddr, f.arbExtra, nil
}

func (f *fakeLedger) queryCalls() []queryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queryCall, len(f.queries))
	copy(out, f.queries)
	return out
}

// fakeScanner implements LedgerScanner over a canned script of batches:
// each ScanEvents call pops the next batch.
type fakeScanner struct {
	mu      sync.Mutex
	batches [][]Event
	scans   []queryCall
	err     error
}

func (f *fakeScanner) ScanEvents(_ context.Context, fromBlock, toBlock uint64) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scans = append(f.scans, queryCall{fromBlock: fromBlock, toBlock: toBlock})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

// fakeArbitrator implements Arbitrator without appeal support.
type fakeArbitrator struct {
	statusCode uint8
	statusErr  error
	rulingCode uint64
	rulingErr  error
}

func (f *fakeArbitrator) DisputeStatus(context.Context, uint64) (uint8, error) {
	return f.statusCode, f.statusErr
}

func (f *fakeArbitrator) CurrentRuling(context.Context, uint64) (uint64, error) {
	return f.rulingCode, f.rulingErr
}

// appealArbitrator additionally satisfies AppealPeriodReader.
type appealArbitrator struct {
	fakeArbitrator
	start, end uint64
	appealErr  error
}

func (f *appealArbitrator) AppealPeriod(context.Context, uint64) (uint64, uint64, error) {
	if f.appealErr != nil {
		return 0, 0, f.appealErr
	}
	return f.start, f.end, nil
}

// fakeSink records saved events and the checkpoint.
type fakeSink struct {
	mu         sync.Mutex
	saved      []Event
	saveErr    error
	checkpoint uint64
	checkErr   error
}

func (f *fakeSink) SaveEvents(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, events...)
	return nil
}

func (f *fakeSink) Checkpoint(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return 0, f.checkErr
	}
	return f.checkpoint, nil
}

func (f *fakeSink) SetCheckpoint(_ context.Context, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoint = block
	return nil
}

func (f *fakeSink) savedEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.saved))
	copy(out, f.saved)
	return out
}
