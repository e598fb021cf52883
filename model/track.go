package model

import "time"

// ExternalRefLen is the fixed length of a track's external reference id.
const ExternalRefLen = 11

// Track represents one playable entry in the radio catalog.
type Track struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	ExternalRef string    `json:"externalRef" gorm:"type:char(11);not null;uniqueIndex"`
	Format      string    `json:"format,omitempty" gorm:"type:varchar(8)"` // empty in pre-split mode
	ChunkCount  int       `json:"chunkCount" gorm:"not null;default:0"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName keeps the table name of the original schema.
func (Track) TableName() string {
	return "audio_files"
}

// AcceptedFormats maps audio formats to their HTTP content types.
var AcceptedFormats = map[string]string{
	"wav": "audio/x-wav",
	"mp3": "audio/mpeg",
	"ogg": "audio/ogg",
}

// ContentType returns the content type for the track's payload. Pre-split
// tracks without an explicit format carry mp3 segments.
func (t *Track) ContentType() string {
	if ct, ok := AcceptedFormats[t.Format]; ok {
		return ct
	}
	return AcceptedFormats["mp3"]
}

// ValidFormat reports whether f names a supported audio format. The empty
// string is accepted for pre-split uploads.
func ValidFormat(f string) bool {
	if f == "" {
		return true
	}
	_, ok := AcceptedFormats[f]
	return ok
}
