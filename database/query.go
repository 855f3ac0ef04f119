package database

import (
	"context"

	"github.com/arangodb/go-driver/v2/arangodb"
)

// queryOne runs an AQL query and decodes the first row, or returns nil when
// the query yields nothing.
func queryOne[T any](ctx context.Context, db arangodb.Database, query string, bindVars map[string]interface{}) (*T, error) {
	cursor, err := db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, nil
	}
	var doc T
	if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// queryAll runs an AQL query and decodes every row.
func queryAll[T any](ctx context.Context, db arangodb.Database, query string, bindVars map[string]interface{}) ([]T, error) {
	cursor, err := db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var docs []T
	for cursor.HasMore() {
		var doc T
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// exec runs a write query, discarding the result.
func exec(ctx context.Context, db arangodb.Database, query string, bindVars map[string]interface{}) error {
	cursor, err := db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return err
	}
	return cursor.Close()
}
