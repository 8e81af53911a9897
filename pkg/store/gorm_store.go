package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookrec/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &FavoriteModel{}, &AlertModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "is_admin", "is_active", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveBook stores or replaces a catalog entry.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns catalog entries ordered by ID with optional filters.
func (s *GormStore) ListBooks(filter BookFilter) ([]domain.Book, error) {
	q := s.db.Model(&BookModel{}).Order("id")
	if filter.Genre != "" {
		q = q.Where("genre ILIKE ?", "%"+filter.Genre+"%")
	}
	if filter.Language != "" {
		q = q.Where("language ILIKE ?", "%"+filter.Language+"%")
	}
	if filter.HasMin {
		q = q.Where("rating >= ?", filter.MinRating)
	}
	var models []BookModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// SearchBooks matches query against title, author, keywords, or description.
func (s *GormStore) SearchBooks(query string) ([]domain.Book, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	var models []BookModel
	err := s.db.Model(&BookModel{}).
		Where("title ILIKE ? OR author ILIKE ? OR keywords ILIKE ? OR description ILIKE ?",
			pattern, pattern, pattern, pattern).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// TopRatedBooks returns the highest rated books.
func (s *GormStore) TopRatedBooks(limit int) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Model(&BookModel{}).Order("rating DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// AddFavorite links a book to a user's favorites.
func (s *GormStore) AddFavorite(userID string, bookID int64, at time.Time) error {
	var count int64
	if err := s.db.Model(&BookModel{}).Where("id = ?", bookID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrBookNotFound
	}
	fav := FavoriteModel{UserID: userID, BookID: bookID, FavoritedAt: at}
	err := s.db.Create(&fav).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateFavorite
	}
	return err
}

// RemoveFavorite unlinks a favorite; ok reports whether it existed.
func (s *GormStore) RemoveFavorite(userID string, bookID int64) (bool, error) {
	res := s.db.Where("user_id = ? AND book_id = ?", userID, bookID).Delete(&FavoriteModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListFavorites returns the user's favorites, newest first.
func (s *GormStore) ListFavorites(userID string) ([]domain.FavoriteBook, error) {
	type row struct {
		BookModel
		FavoritedAt time.Time
	}
	var rows []row
	err := s.db.Model(&BookModel{}).
		Select("book_models.*, favorite_models.favorited_at").
		Joins("JOIN favorite_models ON favorite_models.book_id = book_models.id").
		Where("favorite_models.user_id = ?", userID).
		Order("favorite_models.favorited_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.FavoriteBook, 0, len(rows))
	for _, r := range rows {
		out = append(out, favoriteFromJoin(r.BookModel, r.FavoritedAt))
	}
	return out, nil
}

// IsFavorite reports favorite membership.
func (s *GormStore) IsFavorite(userID string, bookID int64) (bool, error) {
	var count int64
	err := s.db.Model(&FavoriteModel{}).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountFavorites returns the size of the user's favorite set.
func (s *GormStore) CountFavorites(userID string) (int, error) {
	var count int64
	if err := s.db.Model(&FavoriteModel{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveAlert stores an alert row.
func (s *GormStore) SaveAlert(a domain.Alert) error {
	model, err := alertToModel(a)
	if err != nil {
		return fmt.Errorf("encode alert context: %w", err)
	}
	return s.db.Create(&model).Error
}

// ListUnresolvedAlerts returns open alerts, newest first.
func (s *GormStore) ListUnresolvedAlerts(limit int) ([]domain.Alert, error) {
	var models []AlertModel
	q := s.db.Where("resolved = ?", false).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Alert, 0, len(models))
	for _, m := range models {
		out = append(out, alertFromModel(m))
	}
	return out, nil
}

// ResolveAlert marks an alert resolved; ok reports whether it existed.
func (s *GormStore) ResolveAlert(id string, at time.Time) (bool, error) {
	res := s.db.Model(&AlertModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolved_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func booksFromModels(models []BookModel) []domain.Book {
	out := make([]domain.Book, 0, len(models))
	for _, m := range models {
		out = append(out, bookFromModel(m))
	}
	return out
}
