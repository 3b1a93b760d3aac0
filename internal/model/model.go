package model

import (
	"database/sql/driver"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&CacheEntry{},
}

// CacheEntry is one key of the local (pre-authentication) cache.
type CacheEntry struct {
	Key       string         `json:"key" gorm:"primaryKey;size:128"`
	Value     JSONText  `json:"value"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// JSONText is datatypes.JSON kept in a TEXT column on sqlite. A JSON column
// there has NUMERIC affinity, so scalars such as 1 would come back as
// integers that datatypes.JSON cannot scan.
type JSONText datatypes.JSON

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	return datatypes.JSON(j).Value()
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(value any) error {
	return (*datatypes.JSON)(j).Scan(value)
}

// GormDataType implements schema.GormDataTypeInterface.
func (JSONText) GormDataType() string {
	return datatypes.JSON(nil).GormDataType()
}

// GormDBDataType implements migrator.GormDataTypeInterface.
func (JSONText) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "TEXT"
	}
	return datatypes.JSON(nil).GormDBDataType(db, field)
}

// TableName pins the table name for both sqlite and postgres.
func (*CacheEntry) TableName() string {
	return "cache_entries"
}

////////////////////////
// WIRE STRUCTURES     //
////////////////////////

// CachedMarker is the simplified record kept in the local cache.
type CachedMarker struct {
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	WeatherInfo *WeatherInfo `json:"weatherInfo,omitempty"`
	ID          int64        `json:"id"`
}

// WeatherInfo mirrors the backend weather record.
type WeatherInfo struct {
	Temp        float64 `json:"temp"`
	Dt          int64   `json:"dt"`
	Location    string  `json:"location"`
	Icon        string  `json:"icon"`
	Country     string  `json:"country"`
	Description string  `json:"description"`
}

// RemoteImage is an image entry of a server marker.
type RemoteImage struct {
	URL string `json:"url"`
}

// RemoteUser is the author block of a server marker.
type RemoteUser struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// RemoteMarker is a marker as returned by GET /markers/user.
type RemoteMarker struct {
	ID          int64         `json:"id"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	IsPublic    *bool         `json:"isPublic"`
	Images      []RemoteImage `json:"images"`
	WeatherInfo *WeatherInfo  `json:"weatherInfo"`
	User        *RemoteUser   `json:"user"`
}

// NewMarkerRequest is the body of POST /markers/user.
type NewMarkerRequest struct {
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	WeatherInfo *WeatherInfo `json:"weatherInfo,omitempty"`
}
