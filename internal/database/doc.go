// Package database provides PostgreSQL connection pool setup.
//
// The chat client only needs a database when the session store is configured
// with the postgres driver; see store.Postgres.
package database
