package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

// userRow is keyed by the Telegram user id.
type userRow struct {
	ID            int64 `gorm:"primaryKey;autoIncrement:false"`
	RosterVersion int   `gorm:"not null;default:0"`
	Schedule      datatypes.JSON
	Subjects      []subjectRow  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Homework      []homeworkRow `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userRow) TableName() string { return "users" }

type subjectRow struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   int64  `gorm:"index;not null"`
	Position int    `gorm:"not null"`
	Name     string `gorm:"not null"`
	Teacher  *string
	Room     *string
}

func (subjectRow) TableName() string { return "subjects" }

type homeworkRow struct {
	ID     string `gorm:"primaryKey;size:36"`
	UserID int64  `gorm:"index:idx_homework_user_date;not null"`
	// Position is the entry's place in the ledger; equal (date, subject)
	// pairs keep their insertion order through it.
	Position    int    `gorm:"not null;default:0"`
	Date        int    `gorm:"index:idx_homework_user_date;not null"`
	Subject     int    `gorm:"not null"`
	ForLesson   bool   `gorm:"not null"`
	Description string `gorm:"not null"`
}

func (homeworkRow) TableName() string { return "homework" }

// SQLStore persists users in PostgreSQL through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects and migrates the schema.
func OpenSQL(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogLevel(appLog.CurrentLevel())),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewSQLStore(db)
}

// gormLogLevel keeps SQL tracing for debug runs only.
func gormLogLevel(l appLog.Level) gormLogger.LogLevel {
	switch l {
	case appLog.LevelDebug:
		return gormLogger.Info
	case appLog.LevelError:
		return gormLogger.Error
	default:
		return gormLogger.Warn
	}
}

// NewSQLStore wraps an existing connection and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&userRow{}, &subjectRow{}, &homeworkRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	appLog.Info("database ready", "dialect", db.Dialector.Name())
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context, id int64) (*model.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).
		Preload("Subjects", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Homework", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return row.toModel()
}

// Save replaces the user's rows inside one transaction.
func (s *SQLStore) Save(ctx context.Context, u *model.User) error {
	row, err := fromModel(u)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&subjectRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&homeworkRow{}).Error; err != nil {
			return err
		}
		if len(row.Subjects) > 0 {
			if err := tx.Create(&row.Subjects).Error; err != nil {
				return err
			}
		}
		if len(row.Homework) > 0 {
			if err := tx.CreateInBatches(&row.Homework, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) UserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromModel(u *model.User) (userRow, error) {
	row := userRow{ID: u.ID, RosterVersion: u.RosterVersion}
	if u.Timetable != nil {
		raw, err := json.Marshal(u.Timetable)
		if err != nil {
			return row, fmt.Errorf("encode timetable: %w", err)
		}
		row.Schedule = datatypes.JSON(raw)
	}
	for i, sub := range u.Subjects {
		row.Subjects = append(row.Subjects, subjectRow{
			UserID:   u.ID,
			Position: i,
			Name:     sub.Name,
			Teacher:  sub.Teacher,
			Room:     sub.Room,
		})
	}
	for i, h := range u.Homework {
		id := h.ID
		if id == "" {
			id = uuid.NewString()
		}
		row.Homework = append(row.Homework, homeworkRow{
			ID:          id,
			UserID:      u.ID,
			Position:    i,
			Date:        int(h.Date),
			Subject:     h.Subject,
			ForLesson:   h.Placement == model.ForLesson,
			Description: h.Description,
		})
	}
	return row, nil
}

func (r userRow) toModel() (*model.User, error) {
	u := &model.User{ID: r.ID, RosterVersion: r.RosterVersion}
	if len(r.Schedule) > 0 && string(r.Schedule) != "null" {
		var tt model.Timetable
		if err := json.Unmarshal(r.Schedule, &tt); err != nil {
			return nil, fmt.Errorf("decode timetable of user %d: %w", r.ID, err)
		}
		u.Timetable = &tt
	}
	for _, s := range r.Subjects {
		u.Subjects = append(u.Subjects, model.Subject{Name: s.Name, Teacher: s.Teacher, Room: s.Room})
	}
	for _, h := range r.Homework {
		p := model.ForEndOfDay
		if h.ForLesson {
			p = model.ForLesson
		}
		u.Homework = append(u.Homework, model.Homework{
			ID:          h.ID,
			Date:        model.Date(h.Date),
			Subject:     h.Subject,
			Placement:   p,
			Description: h.Description,
		})
	}
	return u, nil
}
