package db

import (
	"time"

	"github.com/TehShadow/Rusty/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
// maxOpen 限制连接池大小，所有连接共享同一个池。
func Connect(dsn string, maxOpen int) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			if err = ConfigurePool(gdb, maxOpen); err == nil {
				return gdb, nil
			}
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func ConfigurePool(gdb *gorm.DB, maxOpen int) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	idle := maxOpen / 4
	if idle < 1 {
		idle = 1
	}
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return sqlDB.Ping()
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(models.All()...)
}
