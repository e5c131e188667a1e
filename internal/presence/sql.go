package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/muurk/jsonwire/internal/config"
)

// Session is one live connection bound to a user
type Session struct {
	ConnID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	User      string `gorm:"column:user_name;index;not null"`
	CreatedAt time.Time
}

// TableName implements gorm's tabler
func (Session) TableName() string { return "presence_sessions" }

// UserStatus is the persisted online state of a user
type UserStatus struct {
	User     string `gorm:"column:user_name;primaryKey"`
	Online   bool   `gorm:"not null"`
	LastSeen time.Time
}

// TableName implements gorm's tabler
func (UserStatus) TableName() string { return "presence_users" }

// SQL is a Store persisted through gorm. User status rows survive restarts, so
// LastSeen records when each user was last demoted. Sessions do not: connection
// ids restart at 1 with every process, so opening the store drops the sessions
// of the previous run and marks every user offline.
type SQL struct {
	db *gorm.DB
}

// NewSQL opens the database and migrates the presence tables
func NewSQL(cfg config.SQLConfig) (*SQL, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported presence sql driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open presence database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// sqlite allows a single writer; serialize rather than fail with SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	return NewSQLWithDB(db)
}

// NewSQLWithDB wraps an existing gorm handle, migrates the presence tables and
// clears sessions left by an earlier process
func NewSQLWithDB(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&Session{}, &UserStatus{}); err != nil {
		return nil, fmt.Errorf("failed to migrate presence tables: %w", err)
	}
	s := &SQL{db: db}
	if err := s.Reset(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset deletes every session and marks every user offline. LastSeen is kept.
func (s *SQL) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Session{}).Error; err != nil {
			return err
		}
		return tx.Model(&UserStatus{}).Where("online = ?", true).Update("online", false).Error
	})
	if err != nil {
		return fmt.Errorf("failed to clear stale presence sessions: %w", err)
	}
	return nil
}

// OnLogin implements Store
func (s *SQL) OnLogin(ctx context.Context, connID uint64, user string) error {
	if user == "" {
		return ErrEmptyUser
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Session
		err := tx.Where("conn_id = ?", connID).Take(&existing).Error
		switch {
		case err == nil && existing.User != user:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			if err := demoteIfIdle(tx, existing.User); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		session := Session{ConnID: connID, User: user, CreatedAt: time.Now()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conn_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_name"}),
		}).Create(&session).Error; err != nil {
			return err
		}

		status := UserStatus{User: user, Online: true, LastSeen: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"online", "last_seen"}),
		}).Create(&status).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record login for connection %d: %w", connID, err)
	}
	return nil
}

// OnDisconnect implements Store
func (s *SQL) OnDisconnect(ctx context.Context, connID uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		err := tx.Where("conn_id = ?", connID).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(&session).Error; err != nil {
			return err
		}
		return demoteIfIdle(tx, session.User)
	})
	if err != nil {
		return fmt.Errorf("failed to record disconnect for connection %d: %w", connID, err)
	}
	return nil
}

// Online implements Store
func (s *SQL) Online(ctx context.Context, user string) (bool, error) {
	var status UserStatus
	err := s.db.WithContext(ctx).Where("user_name = ?", user).Take(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read presence for %q: %w", user, err)
	}
	return status.Online, nil
}

// Status returns the persisted status row for user
func (s *SQL) Status(ctx context.Context, user string) (*UserStatus, error) {
	var status UserStatus
	if err := s.db.WithContext(ctx).Where("user_name = ?", user).Take(&status).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

// Close implements Store
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func demoteIfIdle(tx *gorm.DB, user string) error {
	var remaining int64
	if err := tx.Model(&Session{}).Where("user_name = ?", user).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.Model(&UserStatus{}).Where("user_name = ?", user).
		Updates(map[string]any{"online": false, "last_seen": time.Now()}).Error
}
