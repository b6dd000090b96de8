package store

import (
	"time"
)

// SessionRecord is the durable row for one game session. Hard deletes
// cascade to membership, track, and load records.
type SessionRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	JoinCode   string `gorm:"uniqueIndex;size:8;not null"` // stored uppercase
	OwnerID    string `gorm:"index;size:64;not null"`
	Status     string `gorm:"size:16;not null"`
	MaxPlayers int    `gorm:"not null"`
	IsPublic   bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Players []PlayerRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Tracks  []TrackRecord  `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Loads   []LoadRecord   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// PlayerRecord is one membership. UserID is empty for bot seats.
type PlayerRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	SessionID     string `gorm:"index;size:36;not null"`
	UserID        string `gorm:"index;size:64"`
	Name          string `gorm:"size:64"`
	Color         string `gorm:"size:16;not null"`
	IsOnline      bool   `gorm:"not null;default:false"`
	SeatOrder     int    `gorm:"not null"`
	Cash          int    `gorm:"not null;default:0"`
	BotDifficulty string `gorm:"size:16"`
	BotArchetype  string `gorm:"size:32"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrackRecord is one built segment of the shared board.
type TrackRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:36;not null"`
	OwnerID   string `gorm:"size:36;not null"` // player id
	FromCity  string `gorm:"size:64;not null"`
	ToCity    string `gorm:"size:64;not null"`
	Cost      int    `gorm:"not null"`
}

// LoadRecord is one shipment on the board.
type LoadRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:36;not null"`
	Kind      string `gorm:"size:32;not null"`
	FromCity  string `gorm:"size:64;not null"`
	ToCity    string `gorm:"size:64;not null"`
	CarrierID string `gorm:"size:36"`
}

// GamePhaseRecord keeps the scalar game-state fields that don't fit a
// child table: phase, round, turn cursor.
type GamePhaseRecord struct {
	SessionID         string `gorm:"primaryKey;size:36"`
	Phase             string `gorm:"size:16;not null"`
	Round             int    `gorm:"not null;default:0"`
	CurrentTurnUserID string `gorm:"size:64"`
	UpdatedAt         time.Time
}

// SessionHide marks a session soft-deleted for one user only; the row
// stays visible to everyone else.
type SessionHide struct {
	SessionID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}
