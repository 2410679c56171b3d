package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate applies a SELECT ... FOR UPDATE row lock where the dialect
// supports it. The sqlite test backend has no FOR UPDATE syntax; its
// single-writer model already serialises the transactions the lock would
// order on Postgres.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
