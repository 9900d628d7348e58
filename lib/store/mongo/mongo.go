// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

const dbName = "dapps"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) col(name string) *mgo.Collection {
	return m.c.Database(dbName).Collection(name)
}

// nextID allocates a monotonically increasing numeric id for the named sequence. Numeric ids keep
// the two backends interchangeable behind the store interface.
func (m *Mongo) nextID(ctx context.Context, seq string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := m.col("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": seq},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("could not allocate id for %s: %w", seq, err)
	}

	return doc.Value, nil
}

// UpsertDapp inserts the dApp or refreshes its title, active flag and priority, returning its id.
func (m *Mongo) UpsertDapp(ctx context.Context, d store.Dapp) (int64, error) {
	var cur store.Dapp
	err := m.col("dapps").FindOne(ctx, bson.M{"slug": d.Slug}).Decode(&cur)
	if errors.Is(err, mgo.ErrNoDocuments) {
		if cur.ID, err = m.nextID(ctx, "dapps"); err != nil {
			return 0, err
		}
		d.ID = cur.ID
		d.Updated = time.Now().UTC()
		if _, err = m.col("dapps").InsertOne(ctx, d); err != nil {
			return 0, fmt.Errorf("could not insert dapp %s: %w", d.Slug, err)
		}

		return d.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not upsert dapp %s: %w", d.Slug, err)
	}

	_, err = m.col("dapps").UpdateOne(ctx, bson.M{"slug": d.Slug}, bson.M{"$set": bson.M{
		"title":    d.Title,
		"active":   d.Active,
		"priority": d.Priority,
		"updated":  time.Now().UTC(),
	}})

	return cur.ID, err
}

// GetDapps returns all dApps, or only the active ones, ordered by priority.
func (m *Mongo) GetDapps(ctx context.Context, onlyActive bool) ([]store.Dapp, error) {
	filter := bson.M{}
	if onlyActive {
		filter["active"] = true
	}

	return m.findDapps(ctx, filter)
}

// DappsBySlugs returns the dApps matching any of the given slugs.
func (m *Mongo) DappsBySlugs(ctx context.Context, slugs []string) ([]store.Dapp, error) {
	return m.findDapps(ctx, bson.M{"slug": bson.M{"$in": slugs}})
}

func (m *Mongo) findDapps(ctx context.Context, filter bson.M) ([]store.Dapp, error) {
	cur, err := m.col("dapps").Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "slug", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not get dapps: %w", err)
	}

	var out []store.Dapp
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// AddDappTotalTx adds delta to the informational lifetime transaction counter.
func (m *Mongo) AddDappTotalTx(ctx context.Context, dappID int64, delta int64) error {
	_, err := m.col("dapps").UpdateOne(ctx, bson.M{"id": dappID}, bson.M{
		"$inc": bson.M{"total_tx": delta},
		"$set": bson.M{"updated": time.Now().UTC()},
	})

	return err
}

// UpsertAddress inserts the address or refreshes its name, type and last-seen timestamp,
// returning its id.
func (m *Mongo) UpsertAddress(ctx context.Context, a store.Address) (int64, error) {
	filter := bson.M{"network": a.Network, "addr": a.Addr}

	var cur store.Address
	err := m.col("addresses").FindOne(ctx, filter).Decode(&cur)
	if errors.Is(err, mgo.ErrNoDocuments) {
		if cur.ID, err = m.nextID(ctx, "addresses"); err != nil {
			return 0, err
		}
		a.ID = cur.ID
		a.LastSeen = time.Now().UTC()
		if _, err = m.col("addresses").InsertOne(ctx, a); err != nil {
			return 0, fmt.Errorf("could not insert address %s: %w", a.Addr, err)
		}

		return a.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not upsert address %s: %w", a.Addr, err)
	}

	set := bson.M{"last_seen": time.Now().UTC()}
	if a.Name != "" {
		set["name"] = a.Name
	}
	if a.Type != "" {
		set["type"] = a.Type
	}
	_, err = m.col("addresses").UpdateOne(ctx, filter, bson.M{"$set": set})

	return cur.ID, err
}

// LinkDappAddress creates the m:n link once; re-linking an existing pair is a no-op.
func (m *Mongo) LinkDappAddress(ctx context.Context, dappID, addrID int64, role string) error {
	_, err := m.col("links").UpdateOne(ctx,
		bson.M{"dapp_id": dappID, "address_id": addrID},
		bson.M{"$setOnInsert": bson.M{"role": role}},
		options.Update().SetUpsert(true))

	return err
}

// DappAddresses returns the addresses linked to the dApp on the given network.
func (m *Mongo) DappAddresses(ctx context.Context, dappID int64, network string) ([]store.Address, error) {
	cur, err := m.col("links").Find(ctx, bson.M{"dapp_id": dappID})
	if err != nil {
		return nil, fmt.Errorf("could not get dapp links: %w", err)
	}

	var links []struct {
		AddressID int64 `bson:"address_id"`
	}
	if err = cur.All(ctx, &links); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.AddressID)
	}

	acur, err := m.col("addresses").Find(ctx,
		bson.M{"id": bson.M{"$in": ids}, "network": network},
		options.Find().SetSort(bson.D{{Key: "addr", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not get addresses: %w", err)
	}

	var out []store.Address
	if err = acur.All(ctx, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// IncTxCount additively upserts the hourly bucket's transaction counter.
func (m *Mongo) IncTxCount(ctx context.Context, dappID int64, network string, hour time.Time, delta int64) error {
	_, err := m.col("hourly_stats").UpdateOne(ctx,
		bson.M{"dapp_id": dappID, "network": network, "hour": hour.UTC().Truncate(time.Hour)},
		bson.M{
			"$inc":         bson.M{"tx_count": delta},
			"$setOnInsert": bson.M{"unique_users": int64(0)},
		},
		options.Update().SetUpsert(true))

	return err
}

// AddHourlyUser inserts the user into the hour's set; already present is a no-op.
func (m *Mongo) AddHourlyUser(ctx context.Context, dappID int64, network string, hour time.Time, user string) error {
	_, err := m.col("hourly_users").UpdateOne(ctx,
		bson.M{"dapp_id": dappID, "network": network, "hour": hour.UTC().Truncate(time.Hour), "user": user},
		bson.M{"$setOnInsert": bson.M{"seen": true}},
		options.Update().SetUpsert(true))

	return err
}

// RefreshUniqueCount recomputes the bucket's distinct-user counter from the set's cardinality.
func (m *Mongo) RefreshUniqueCount(ctx context.Context, dappID int64, network string, hour time.Time) error {
	h := hour.UTC().Truncate(time.Hour)

	n, err := m.col("hourly_users").CountDocuments(ctx,
		bson.M{"dapp_id": dappID, "network": network, "hour": h})
	if err != nil {
		return fmt.Errorf("could not count hourly users: %w", err)
	}

	_, err = m.col("hourly_stats").UpdateOne(ctx,
		bson.M{"dapp_id": dappID, "network": network, "hour": h},
		bson.M{
			"$set":         bson.M{"unique_users": n},
			"$setOnInsert": bson.M{"tx_count": int64(0)},
		},
		options.Update().SetUpsert(true))

	return err
}

// MarkTxSeen records the transaction hash for the dApp, returning true only the first time.
func (m *Mongo) MarkTxSeen(ctx context.Context, dappID int64, network, hash string) (bool, error) {
	res, err := m.col("processed_txs").UpdateOne(ctx,
		bson.M{"dapp_id": dappID, "network": network, "tx_hash": hash},
		bson.M{"$setOnInsert": bson.M{"seen": true}},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}

	return res.UpsertedCount > 0, nil
}

type hourlyDoc struct {
	DappID      int64     `bson:"dapp_id"`
	Hour        time.Time `bson:"hour"`
	TxCount     int64     `bson:"tx_count"`
	UniqueUsers int64     `bson:"unique_users"`
}

// SumInWindow sums the buckets of each dApp whose hour falls in [from, to).
func (m *Mongo) SumInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64]store.WindowTotals, error) {
	docs, err := m.windowDocs(ctx, dappIDs, network, from, to)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]store.WindowTotals, len(dappIDs))
	for _, id := range dappIDs {
		out[id] = store.WindowTotals{}
	}
	for _, d := range docs {
		w := out[d.DappID]
		w.TxCount += d.TxCount
		w.UniqueUsers += d.UniqueUsers
		out[d.DappID] = w
	}

	return out, nil
}

// SeriesInWindow returns the gap-free ascending hourly transaction-count series of each dApp
// over [from, to).
func (m *Mongo) SeriesInWindow(ctx context.Context, dappIDs []int64, network string, from, to time.Time) (map[int64][]store.HourPoint, error) {
	docs, err := m.windowDocs(ctx, dappIDs, network, from, to)
	if err != nil {
		return nil, err
	}

	sparse := make(map[int64][]store.HourPoint, len(dappIDs))
	for _, d := range docs {
		sparse[d.DappID] = append(sparse[d.DappID], store.HourPoint{Hour: d.Hour.UTC(), TxCount: d.TxCount})
	}

	out := make(map[int64][]store.HourPoint, len(dappIDs))
	for _, id := range dappIDs {
		out[id] = store.ZeroFill(sparse[id], from, to)
	}

	return out, nil
}

func (m *Mongo) windowDocs(ctx context.Context, dappIDs []int64, network string, from, to time.Time) ([]hourlyDoc, error) {
	cur, err := m.col("hourly_stats").Find(ctx, bson.M{
		"dapp_id": bson.M{"$in": dappIDs},
		"network": network,
		"hour":    bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}, options.Find().SetSort(bson.D{{Key: "dapp_id", Value: 1}, {Key: "hour", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("could not get hourly stats: %w", err)
	}

	var docs []hourlyDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	return docs, nil
}

// SaveRun appends the ingestion run summary to the audit log.
func (m *Mongo) SaveRun(ctx context.Context, r store.RunResult) error {
	r.StartedAt = r.StartedAt.UTC()
	_, err := m.col("sync_runs").InsertOne(ctx, r)

	return err
}

// LastRun returns the most recent run summary, or ErrDataNotFound when the log is empty.
func (m *Mongo) LastRun(ctx context.Context) (store.RunResult, error) {
	var r store.RunResult
	err := m.col("sync_runs").FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})).Decode(&r)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return r, store.ErrDataNotFound
	}

	return r, err
}
