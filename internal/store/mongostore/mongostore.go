// Package mongostore implements store.Store on top of MongoDB, following
// the collection-per-concern layout used throughout the retrieval pack's
// ingestion services (e.g. stellar-postgres-ingester's per-table writers).
package mongostore

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
)

const (
	retryMaxAttempts = 3
	retryBaseDelay   = 500 * time.Millisecond
)

// Mongo is the shared store.Store handle: one client, one database, and a
// registry of per-token collection sets lazily built on ForToken.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger

	statusCol *mongo.Collection
}

// Connect dials MongoDB and returns a ready Mongo handle. Connection errors
// are fatal (ConfigError/InvariantError territory — the caller decides).
func Connect(ctx context.Context, uri, database string, log *zap.Logger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}
	db := client.Database(database)
	m := &Mongo{
		client:    client,
		db:        db,
		log:       log,
		statusCol: db.Collection("sync_status"),
	}
	if _, err := m.statusCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status_type", Value: 1}, {Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, errors.Wrap(err, "ensure sync_status index")
	}
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) ForToken(symbol string) store.TokenStore {
	prefix := strings.ToLower(symbol)
	return &tokenStore{
		symbol:    symbol,
		txCol:     m.db.Collection(prefix + "_transactions"),
		acctCol:   m.db.Collection(prefix + "_accounts"),
		balCol:    m.db.Collection(prefix + "_balances"),
		supplyCol: m.db.Collection(prefix + "_total_supply"),
		anomCol:   m.db.Collection(prefix + "_balance_anomalies"),
		log:       m.log.With(zap.String("token", symbol)),
	}
}

func (m *Mongo) GetSyncStatus(ctx context.Context, token string) (model.SyncStatus, bool, error) {
	var s model.SyncStatus
	err := m.statusCol.FindOne(ctx, bson.M{"status_type": model.SyncStatusType, "token": token}).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return model.SyncStatus{}, false, nil
	}
	if err != nil {
		return model.SyncStatus{}, false, errors.Wrap(err, "get sync status")
	}
	return s, true, nil
}

func (m *Mongo) UpdateSyncStatus(ctx context.Context, s model.SyncStatus) error {
	s.StatusType = model.SyncStatusType
	s.UpdatedAt = time.Now().Unix()
	return retryLinear(ctx, m.log, "update sync status", func() error {
		_, err := m.statusCol.UpdateOne(ctx,
			bson.M{"status_type": model.SyncStatusType, "token": s.Token},
			bson.M{"$set": s},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (m *Mongo) ClearSyncStatus(ctx context.Context, token string) error {
	_, err := m.statusCol.DeleteOne(ctx, bson.M{"status_type": model.SyncStatusType, "token": token})
	if err != nil {
		return errors.Wrap(err, "clear sync status")
	}
	return nil
}

type tokenStore struct {
	symbol    string
	txCol     *mongo.Collection
	acctCol   *mongo.Collection
	balCol    *mongo.Collection
	supplyCol *mongo.Collection
	anomCol   *mongo.Collection
	log       *zap.Logger
}

func (t *tokenStore) EnsureIndexes(ctx context.Context) error {
	if _, err := t.txCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "index", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "ensure tx index")
	}
	if _, err := t.acctCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "ensure accounts index")
	}
	if _, err := t.balCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "ensure balances index")
	}
	return nil
}

// retryLinear implements the store's 3x / 500ms*n linear backoff (§4.2),
// built on cenkalti/backoff's Retry with the linearBackOff policy below.
func retryLinear(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	var attempt int
	bo := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{}, retryMaxAttempts), ctx)
	err := backoff.Retry(func() error {
		attempt++
		if err := fn(); err != nil {
			log.Warn("store operation failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return model.NewStoreError(op, err)
	}
	return nil
}

// linearBackOff yields 500ms, 1000ms, 1500ms, ... matching "linear 500ms*n".
type linearBackOff struct{ n int }

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * retryBaseDelay
}

func (l *linearBackOff) Reset() { l.n = 0 }

func (t *tokenStore) SaveTx(ctx context.Context, tx model.Transaction) error {
	return retryLinear(ctx, t.log, "save_tx", func() error {
		_, err := t.txCol.UpdateOne(ctx,
			bson.M{"index": tx.Index},
			bson.M{"$set": tx},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (t *tokenStore) AddAccountTx(ctx context.Context, account string, index uint64) error {
	return retryLinear(ctx, t.log, "add_account_tx", func() error {
		_, err := t.acctCol.UpdateOne(ctx,
			bson.M{"account": account},
			bson.M{"$addToSet": bson.M{"transaction_indices": index}, "$setOnInsert": bson.M{"account": account}},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (t *tokenStore) GetLatestTxIndex(ctx context.Context) (int64, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "index", Value: -1}})
	var tx model.Transaction
	err := t.txCol.FindOne(ctx, bson.M{}, opts).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "get latest tx index")
	}
	return int64(tx.Index), true, nil
}

func (t *tokenStore) GetTxRange(ctx context.Context, lo, hi uint64) ([]model.Transaction, error) {
	cur, err := t.txCol.Find(ctx,
		bson.M{"index": bson.M{"$gte": lo, "$lte": hi}},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "get tx range")
	}
	defer cur.Close(ctx)
	var out []model.Transaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode tx range")
	}
	return out, nil
}

func (t *tokenStore) GetTxByIndices(ctx context.Context, indices []uint64) ([]model.Transaction, error) {
	cur, err := t.txCol.Find(ctx,
		bson.M{"index": bson.M{"$in": indices}},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "get tx by indices")
	}
	defer cur.Close(ctx)
	var out []model.Transaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode tx by indices")
	}
	return out, nil
}

func (t *tokenStore) GetTxAt(ctx context.Context, index uint64) (model.Transaction, bool, error) {
	var tx model.Transaction
	err := t.txCol.FindOne(ctx, bson.M{"index": index}).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return model.Transaction{}, false, nil
	}
	if err != nil {
		return model.Transaction{}, false, errors.Wrap(err, "get tx at")
	}
	return tx, true, nil
}

func (t *tokenStore) ExistingIndicesInRange(ctx context.Context, lo, hi uint64) (map[uint64]bool, error) {
	cur, err := t.txCol.Find(ctx,
		bson.M{"index": bson.M{"$gte": lo, "$lte": hi}},
		options.Find().SetProjection(bson.M{"index": 1}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "existing indices in range")
	}
	defer cur.Close(ctx)
	out := make(map[uint64]bool)
	for cur.Next(ctx) {
		var doc struct {
			Index uint64 `bson:"index"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode existing index")
		}
		out[doc.Index] = true
	}
	return out, nil
}

func (t *tokenStore) GetAccount(ctx context.Context, account string) (model.AccountRecord, bool, error) {
	var rec model.AccountRecord
	err := t.acctCol.FindOne(ctx, bson.M{"account": account}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return model.AccountRecord{}, false, nil
	}
	if err != nil {
		return model.AccountRecord{}, false, errors.Wrap(err, "get account")
	}
	return rec, true, nil
}

func (t *tokenStore) ListAccounts(ctx context.Context) ([]model.AccountRecord, error) {
	cur, err := t.acctCol.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	defer cur.Close(ctx)
	var out []model.AccountRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}
	return out, nil
}

func (t *tokenStore) SaveBalance(ctx context.Context, account string, balance string, updatedAt int64) error {
	return retryLinear(ctx, t.log, "save_balance", func() error {
		_, err := t.balCol.UpdateOne(ctx,
			bson.M{"account": account},
			bson.M{"$set": bson.M{"account": account, "balance": balance, "last_updated": updatedAt}},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (t *tokenStore) GetBalance(ctx context.Context, account string) (model.BalanceRecord, bool, error) {
	var rec model.BalanceRecord
	err := t.balCol.FindOne(ctx, bson.M{"account": account}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return model.BalanceRecord{}, false, nil
	}
	if err != nil {
		return model.BalanceRecord{}, false, errors.Wrap(err, "get balance")
	}
	return rec, true, nil
}

func (t *tokenStore) ListBalances(ctx context.Context) ([]model.BalanceRecord, error) {
	cur, err := t.balCol.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "list balances")
	}
	defer cur.Close(ctx)
	var out []model.BalanceRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode balances")
	}
	return out, nil
}

func (t *tokenStore) LogAnomaly(ctx context.Context, a model.BalanceAnomaly) error {
	a.AnomalyType = "insufficient_balance"
	return retryLinear(ctx, t.log, "log_anomaly", func() error {
		_, err := t.anomCol.InsertOne(ctx, a)
		return err
	})
}

func (t *tokenStore) RecentAnomalies(ctx context.Context, limit int64) ([]model.BalanceAnomaly, error) {
	cur, err := t.anomCol.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "recent anomalies")
	}
	defer cur.Close(ctx)
	var out []model.BalanceAnomaly
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode anomalies")
	}
	return out, nil
}

func (t *tokenStore) SaveTotalSupply(ctx context.Context, value string) error {
	return retryLinear(ctx, t.log, "save_total_supply", func() error {
		_, err := t.supplyCol.UpdateOne(ctx,
			bson.M{"_id": "total_supply"},
			bson.M{"$set": bson.M{"_id": "total_supply", "value": value}},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (t *tokenStore) GetTotalSupply(ctx context.Context) (string, error) {
	var doc model.TotalSupply
	err := t.supplyCol.FindOne(ctx, bson.M{"_id": "total_supply"}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "0", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get total supply")
	}
	return doc.Value, nil
}

func (t *tokenStore) ClearTx(ctx context.Context) error {
	_, err := t.txCol.DeleteMany(ctx, bson.M{})
	return errors.Wrap(err, "clear tx")
}

func (t *tokenStore) ClearAccounts(ctx context.Context) error {
	_, err := t.acctCol.DeleteMany(ctx, bson.M{})
	return errors.Wrap(err, "clear accounts")
}

func (t *tokenStore) ClearBalances(ctx context.Context) error {
	_, err := t.balCol.DeleteMany(ctx, bson.M{})
	return errors.Wrap(err, "clear balances")
}

func (t *tokenStore) ClearSupply(ctx context.Context) error {
	_, err := t.supplyCol.DeleteMany(ctx, bson.M{})
	return errors.Wrap(err, "clear supply")
}
