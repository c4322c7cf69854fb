// Package mysql provides repositories for persisting audit session records.
// It ships a JSON-line backed in-memory implementation for local development
// and a MySQL implementation for production deployments.
package mysql
