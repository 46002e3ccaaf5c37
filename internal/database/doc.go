// Package database builds PostgreSQL connection pools for the queue-table bus.
package database
