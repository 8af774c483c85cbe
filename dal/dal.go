package dal

import (
	"context"
	"fmt"
	"strings"

	"loki/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open creates and returns a database connection. DSNs starting with
// postgres:// or postgresql:// use Postgres, anything else is treated as a
// SQLite file path.
func Open(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Str("driver", dialector.Name()).Msg("Connected to database.")

	if err := db.AutoMigrate(&models.Guild{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info().Msg("Migrated database.")

	return db, nil
}

// SaveGuild inserts or replaces the given guild document.
func SaveGuild(ctx context.Context, db *gorm.DB, guild *models.Guild) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(guild).Error
}

// GetGuild gets the document for the given guild.
func GetGuild(ctx context.Context, db *gorm.DB, guildID string) (*models.Guild, error) {
	var guild models.Guild
	err := db.WithContext(ctx).Where(&models.Guild{ID: guildID}).Take(&guild).Error
	if err != nil {
		return nil, err
	}
	return &guild, nil
}

// LoadGuilds returns every stored guild document.
func LoadGuilds(ctx context.Context, db *gorm.DB) ([]models.Guild, error) {
	var guilds []models.Guild
	if err := db.WithContext(ctx).Find(&guilds).Error; err != nil {
		return nil, err
	}
	return guilds, nil
}

// Repository persists guild documents through gorm.
type Repository struct {
	DB *gorm.DB
}

func (r Repository) SaveGuild(ctx context.Context, guild *models.Guild) error {
	return SaveGuild(ctx, r.DB, guild)
}

func (r Repository) LoadGuilds(ctx context.Context) ([]models.Guild, error) {
	return LoadGuilds(ctx, r.DB)
}
