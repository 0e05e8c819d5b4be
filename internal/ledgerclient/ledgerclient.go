// Package ledgerclient abstracts the remote ledger/archive canisters behind
// a small contract (spec §4.1): list archives, fetch a ledger window, fetch
// an archive window, and report the live first index and token decimals.
// The wire transport is injected so the core sync engine never depends on
// a specific canister-call mechanism.
package ledgerclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
)

const (
	MaxRetries  = 3
	backoffUnit = 2 * time.Second
)

// Transport performs a single remote call against a canister method and
// returns the raw response bytes for decoding. Implementations own
// connection timeouts (§5: 10s connect).
type Transport interface {
	Call(ctx context.Context, canisterID, method string, args any) ([]byte, error)
}

// Client implements the LedgerClient contract over a Transport.
type Client struct {
	transport      Transport
	ledgerCanister string
	decimals       uint8
	log            *zap.Logger
}

func New(transport Transport, ledgerCanister string, decimals uint8, log *zap.Logger) *Client {
	return &Client{transport: transport, ledgerCanister: ledgerCanister, decimals: decimals, log: log}
}

func (c *Client) TokenDecimals() uint8 { return c.decimals }

// archiveInfoWire is the wire shape of one archive range, before it is
// projected into model.ArchiveInfo.
type archiveInfoWire struct {
	CanisterID string `json:"canister_id"`
	BlockRangeStart uint64 `json:"block_range_start"`
	BlockRangeEnd   uint64 `json:"block_range_end"`
}

// ListArchives returns every archive range, sorted ascending by start.
func (c *Client) ListArchives(ctx context.Context) ([]model.ArchiveInfo, error) {
	raw, err := c.call(ctx, c.ledgerCanister, "archives", nil)
	if err != nil {
		return nil, err
	}
	var wire []archiveInfoWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, model.NewDecodeError("decode archives", err)
	}
	out := make([]model.ArchiveInfo, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.ArchiveInfo{
			CanisterID: w.CanisterID,
			RangeStart: w.BlockRangeStart,
			RangeEnd:   w.BlockRangeEnd,
		})
	}
	sortArchivesByStart(out)
	return out, nil
}

func sortArchivesByStart(a []model.ArchiveInfo) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j].RangeStart < a[j-1].RangeStart; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// FirstIndex reports the lowest index currently present on the live ledger.
func (c *Client) FirstIndex(ctx context.Context) (uint64, error) {
	res, err := c.FetchLedger(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return res.FirstIndex, nil
}

// FetchLedger pulls a window from the live ledger canister, applying the
// decoding fallback chain.
func (c *Client) FetchLedger(ctx context.Context, start, length uint64) (model.FetchResult, error) {
	raw, err := c.callWithRetry(ctx, c.ledgerCanister, "get_transactions", getTransactionsArg{Start: start, Length: length})
	if err != nil {
		return model.FetchResult{}, err
	}
	return decodeFetchResult(raw, start)
}

// FetchArchive pulls a window from a specific archive canister.
func (c *Client) FetchArchive(ctx context.Context, canisterID string, start, length uint64) ([]model.Transaction, error) {
	raw, err := c.callWithRetry(ctx, canisterID, "get_transactions", getTransactionsArg{Start: start, Length: length})
	if err != nil {
		return nil, err
	}
	res, err := decodeFetchResult(raw, start)
	if err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

type getTransactionsArg struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

// envelopeShape is decoding attempt (a): the full ledger-result envelope.
type envelopeShape struct {
	FirstIndex   *uint64              `json:"first_index"`
	LogLength    *uint64              `json:"log_length"`
	Transactions []model.Transaction `json:"transactions"`
}

// simpleRangeShape is decoding attempt (b): just a transactions array.
type simpleRangeShape struct {
	Transactions []model.Transaction `json:"transactions"`
}

// decodeFetchResult tries, in order, the envelope shape, the simple-range
// shape, and a bare transaction array (§4.1 multi-shape decoding). The
// first that parses wins; index is back-filled as start+position.
func decodeFetchResult(raw []byte, start uint64) (model.FetchResult, error) {
	var env envelopeShape
	if err := json.Unmarshal(raw, &env); err == nil && (env.FirstIndex != nil || len(env.Transactions) > 0) {
		fillIndices(env.Transactions, start)
		res := model.FetchResult{Transactions: env.Transactions}
		if env.FirstIndex != nil {
			res.FirstIndex = *env.FirstIndex
		}
		if env.LogLength != nil {
			res.LogLength = *env.LogLength
		}
		return res, nil
	}

	var simple simpleRangeShape
	if err := json.Unmarshal(raw, &simple); err == nil && len(simple.Transactions) > 0 {
		fillIndices(simple.Transactions, start)
		return model.FetchResult{Transactions: simple.Transactions}, nil
	}

	var bare []model.Transaction
	if err := json.Unmarshal(raw, &bare); err == nil {
		fillIndices(bare, start)
		return model.FetchResult{Transactions: bare}, nil
	}

	// All three shapes failed to parse but the transport call itself
	// succeeded: per §4.1 this is reported as an empty batch, not an error.
	return model.FetchResult{}, nil
}

func fillIndices(txs []model.Transaction, start uint64) {
	for i := range txs {
		txs[i].Index = start + uint64(i)
	}
}

// callWithRetry wraps a transport call with up to MAX_RETRIES retries and a
// linearly growing backoff (2*n seconds), surfacing NetworkError on
// exhaustion.
func (c *Client) callWithRetry(ctx context.Context, canisterID, method string, arg any) ([]byte, error) {
	var attempt int
	var last []byte
	bo := backoff.WithContext(&doublingBackOff{unit: backoffUnit, max: MaxRetries}, ctx)
	err := backoff.Retry(func() error {
		attempt++
		raw, err := c.transport.Call(ctx, canisterID, method, arg)
		if err != nil {
			c.log.Warn("ledger call failed, retrying",
				zap.String("canister", canisterID), zap.String("method", method),
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		last = raw
		return nil
	}, bo)
	if err != nil {
		return nil, model.NewNetworkError("fetch from "+canisterID, err)
	}
	return last, nil
}

func (c *Client) call(ctx context.Context, canisterID, method string, arg any) ([]byte, error) {
	raw, err := c.transport.Call(ctx, canisterID, method, arg)
	if err != nil {
		return nil, model.NewNetworkError("call "+canisterID, err)
	}
	return raw, nil
}

// doublingBackOff yields unit*1, unit*2, unit*3, ... matching "2*n seconds".
type doublingBackOff struct {
	unit time.Duration
	max  int
	n    int
}

func (d *doublingBackOff) NextBackOff() time.Duration {
	d.n++
	if d.n > d.max {
		return backoff.Stop
	}
	return time.Duration(d.n) * d.unit
}

func (d *doublingBackOff) Reset() { d.n = 0 }
