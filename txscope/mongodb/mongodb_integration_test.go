//go:build integration

package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// setupReplicaSet starts a single-node replica set; standalone servers
// refuse transactions.
func setupReplicaSet(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcmongo.Run(ctx,
		"mongo:7",
		tcmongo.WithReplicaSet("rs0"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return uri
}

func TestIntegration_TransactionManager(t *testing.T) {
	uri := setupReplicaSet(t)
	ctx := context.Background()

	client, err := Connect(ctx, Config{URI: uri, Logger: log.NewNop()})
	require.NoError(t, err)

	defer func() { require.NoError(t, client.Disconnect(ctx)) }()

	orders := client.Database("txscope").Collection("orders")
	_, err = orders.InsertOne(ctx, bson.M{"_id": "seed"})
	require.NoError(t, err)

	start, err := FromClient(client)
	require.NoError(t, err)

	factory, err := NewFactory(start)
	require.NoError(t, err)

	tm, err := NewTransactionManager(factory, nil)
	require.NoError(t, err)

	tmpl, err := transaction.NewTemplate(tm)
	require.NoError(t, err)

	count := func() int64 {
		n, err := orders.CountDocuments(ctx, bson.M{})
		require.NoError(t, err)

		return n
	}

	t.Run("commit makes writes visible", func(t *testing.T) {
		_, err := tmpl.Execute(ctx, nil, func(ctx context.Context, _ transaction.Status) (any, error) {
			_, err := orders.InsertOne(WithSession(ctx, factory), bson.M{"_id": "o-1"})
			if err != nil {
				return nil, err
			}

			// Not visible outside the session until commit.
			n, err := orders.CountDocuments(context.Background(), bson.M{"_id": "o-1"})
			if err != nil {
				return nil, err
			}

			assert.Zero(t, n)

			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count())
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := errors.New("rejected")

		_, err := tmpl.Execute(ctx, nil, func(ctx context.Context, _ transaction.Status) (any, error) {
			if _, err := orders.InsertOne(WithSession(ctx, factory), bson.M{"_id": "o-2"}); err != nil {
				return nil, err
			}

			return nil, boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, int64(2), count())
	})

	t.Run("requires new commits independently", func(t *testing.T) {
		boom := errors.New("outer failed")

		_, err := tmpl.Execute(ctx, nil, func(ctx context.Context, _ transaction.Status) (any, error) {
			_, err := tmpl.Execute(ctx, &transaction.Definition{Propagation: transaction.PropagationRequiresNew},
				func(ctx context.Context, _ transaction.Status) (any, error) {
					_, err := orders.InsertOne(WithSession(ctx, factory), bson.M{"_id": "audit-1"})

					return nil, err
				})
			if err != nil {
				return nil, err
			}

			if _, err := orders.InsertOne(WithSession(ctx, factory), bson.M{"_id": "o-3"}); err != nil {
				return nil, err
			}

			return nil, boom
		})
		require.ErrorIs(t, err, boom)

		var doc bson.M
		require.NoError(t, orders.FindOne(ctx, bson.M{"_id": "audit-1"}).Decode(&doc))
		assert.ErrorIs(t, orders.FindOne(ctx, bson.M{"_id": "o-3"}).Err(), mongo.ErrNoDocuments)
	})
}
