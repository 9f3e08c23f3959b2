package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zalogate/zalogate/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the sqlite database and runs migrations. An unreadable database
// file is renamed aside and replaced with a fresh one rather than aborting
// startup: losing stored credentials is recoverable (accounts re-pair), a
// gateway that refuses to boot is not.
func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := open(dbPath)
	if err != nil {
		log.Printf("DATABASE CORRUPT: %v, backing up and reinitializing (stored credentials and proxies are LOST)", err)
		if berr := backupCorrupt(dbPath); berr != nil {
			return fmt.Errorf("backup corrupt database: %w", berr)
		}
		db, err = open(dbPath)
		if err != nil {
			return fmt.Errorf("reopen database after corruption backup: %w", err)
		}
	}
	DB = db
	return nil
}

func open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	var check string
	if err := sqlDB.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		sqlDB.Close()
		return nil, fmt.Errorf("integrity check failed: %q %v", check, err)
	}

	if err := db.AutoMigrate(&Credential{}, &Proxy{}, &Setting{}, &User{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return db, nil
}

// backupCorrupt renames the damaged database (and its WAL/SHM companions)
// aside so the next open starts from scratch.
func backupCorrupt(dbPath string) error {
	suffix := ".corrupt-" + time.Now().Format("20060102T150405")
	if err := os.Rename(dbPath, dbPath+suffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, ext := range []string{"-wal", "-shm"} {
		if err := os.Rename(dbPath+ext, dbPath+suffix+ext); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func DeleteUser(id uint) error {
	return DB.Delete(&User{}, id).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func UserCount() (int64, error) {
	var count int64
	err := DB.Model(&User{}).Count(&count).Error
	return count, err
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
