package tests

import (
	"github.com/google/uuid"
)

// Sqlite3URL returns the URL of a fresh in-memory database.
func Sqlite3URL() string {
	return "file::" + uuid.NewString() + ":?mode=memory&cache=shared&_foreign_keys=on"
}
