// Package postgres manages primary/replica connection pools and schema
// migrations for the database/sql resource factory.
//
// A Client connects lazily: the first Resolver or Primary call opens both
// pools, runs pending migrations against the primary and pings the
// resolver. Connection errors never carry credentials.
package postgres
