package postgres

import _ "embed"

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for the certificate tables. Integration tests apply
// it against a fresh database; deployments run it as a migration.
func Schema() string {
	return schemaSQL
}
