package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"bookrec/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	IsAdmin      bool      `gorm:"not null"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID                int64  `gorm:"primaryKey"`
	Title             string `gorm:"not null;index"`
	Author            string `gorm:"not null;index"`
	AuthorNationality string
	Genre             string `gorm:"index"`
	Subgenre          string
	Language          string
	PubYear           int
	Pages             int
	Publisher         string
	ISBN              string
	Series            string
	SeriesNumber      int
	Rating            float64 `gorm:"index"`
	Awards            string
	Description       string `gorm:"type:text"`
	Keywords          string `gorm:"type:text"`
	CoverImageURL     string
}

type FavoriteModel struct {
	UserID      string    `gorm:"primaryKey"`
	BookID      int64     `gorm:"primaryKey"`
	FavoritedAt time.Time `gorm:"not null;index"`
}

type AlertModel struct {
	ID         string `gorm:"primaryKey"`
	Severity   string `gorm:"not null;index"`
	Source     string
	Message    string         `gorm:"type:text;not null"`
	Context    datatypes.JSON `gorm:"type:jsonb"`
	Resolved   bool           `gorm:"not null;index"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	ResolvedAt *time.Time
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsAdmin:      u.IsAdmin,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsAdmin:      m.IsAdmin,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:                b.ID,
		Title:             b.Title,
		Author:            b.Author,
		AuthorNationality: b.AuthorNationality,
		Genre:             b.Genre,
		Subgenre:          b.Subgenre,
		Language:          b.Language,
		PubYear:           b.PubYear,
		Pages:             b.Pages,
		Publisher:         b.Publisher,
		ISBN:              b.ISBN,
		Series:            b.Series,
		SeriesNumber:      b.SeriesNumber,
		Rating:            b.Rating,
		Awards:            b.Awards,
		Description:       b.Description,
		Keywords:          b.Keywords,
		CoverImageURL:     b.CoverImageURL,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:                m.ID,
		Title:             m.Title,
		Author:            m.Author,
		AuthorNationality: m.AuthorNationality,
		Genre:             m.Genre,
		Subgenre:          m.Subgenre,
		Language:          m.Language,
		PubYear:           m.PubYear,
		Pages:             m.Pages,
		Publisher:         m.Publisher,
		ISBN:              m.ISBN,
		Series:            m.Series,
		SeriesNumber:      m.SeriesNumber,
		Rating:            m.Rating,
		Awards:            m.Awards,
		Description:       m.Description,
		Keywords:          m.Keywords,
		CoverImageURL:     m.CoverImageURL,
	}
}

func alertToModel(a domain.Alert) (AlertModel, error) {
	var ctx datatypes.JSON
	if len(a.Context) > 0 {
		data, err := json.Marshal(a.Context)
		if err != nil {
			return AlertModel{}, err
		}
		ctx = datatypes.JSON(data)
	}
	return AlertModel{
		ID:         a.ID,
		Severity:   string(a.Severity),
		Source:     a.Source,
		Message:    a.Message,
		Context:    ctx,
		Resolved:   a.Resolved,
		CreatedAt:  a.CreatedAt,
		ResolvedAt: a.ResolvedAt,
	}, nil
}

func alertFromModel(m AlertModel) domain.Alert {
	var ctx map[string]string
	if len(m.Context) > 0 {
		_ = json.Unmarshal(m.Context, &ctx)
	}
	return domain.Alert{
		ID:         m.ID,
		Severity:   domain.AlertSeverity(m.Severity),
		Source:     m.Source,
		Message:    m.Message,
		Context:    ctx,
		Resolved:   m.Resolved,
		CreatedAt:  m.CreatedAt,
		ResolvedAt: m.ResolvedAt,
	}
}

func favoriteFromJoin(b BookModel, at time.Time) domain.FavoriteBook {
	return domain.FavoriteBook{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Genre:         b.Genre,
		Subgenre:      b.Subgenre,
		Rating:        b.Rating,
		CoverImageURL: b.CoverImageURL,
		FavoritedAt:   at,
	}
}
