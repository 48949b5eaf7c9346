package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"FilingRadar/pkg/config"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

// DB 数据库连接，按实体提供访问器
type DB struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDB 根据配置创建数据库连接
func NewDB(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Database.SQLitePath, logger)
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN()), gormCfg)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// OpenSQLite 打开SQLite数据库，本地运行和测试使用
func OpenSQLite(path string, logger *zap.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开SQLite失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	// SQLite 单写者
	sqlDB.SetMaxOpenConns(1)

	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{db: db, logger: logger}, nil
}

// AutoMigrate 同步表结构
func (d *DB) AutoMigrate() error {
	if err := d.db.AutoMigrate(
		&model.Company{},
		&model.Filing{},
		&model.EarningsCalendar{},
		&model.NotificationRecord{},
	); err != nil {
		return fmt.Errorf("同步表结构失败: %w", err)
	}
	return nil
}

// Transaction 在事务中执行，fn收到绑定事务的DB
func (d *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{db: tx, logger: d.logger})
	})
}

// Ping 检查连接
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Gorm 返回底层gorm句柄
func (d *DB) Gorm() *gorm.DB {
	return d.db
}

// notFound 将gorm未找到错误转换为errs.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}
