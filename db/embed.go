// Package db provides the embedded schema for the Postgres document store.
package db

import _ "embed"

// Schema creates the documents table and its change-notification trigger.
//
//go:embed migrations/001_schema.sql
var Schema string
