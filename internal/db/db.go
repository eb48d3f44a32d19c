package db

import (
	"log"

	"github.com/mkalas/ragline/internal/chat"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the relational store. Fatal on failure: nothing in either
// binary can run without it.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}

// AutoMigrate keeps the schema aligned with the chat models.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&chat.Tenant{},
		&chat.Session{},
		&chat.Thread{},
		&chat.Message{},
		&chat.Source{},
		&chat.SummaryJob{},
	)
}
