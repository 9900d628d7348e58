// Package db implements the opening and graceful closing of database connections.
package db

import (
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/memory"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/mongo"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	MEMORY   string = "memory"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, nil
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
