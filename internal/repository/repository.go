package repository

import (
	"errors"

	"gorm.io/gorm"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict, retry")

// conn returns tx when the caller is inside a transaction, otherwise db.
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
