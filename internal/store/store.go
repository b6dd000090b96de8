// Package store persists sessions and their board state through gorm.
// The sync core treats it as durable-but-slow: the room never broadcasts a
// patch before the save referencing it has completed.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/railgrid/server/internal/game"
	"github.com/railgrid/server/internal/session"
)

var ErrNotFound = errors.New("session not found")
var ErrDuplicateJoinCode = errors.New("join code already in use")

// Store is the persistence contract the lifecycle manager and room loop
// depend on.
type Store interface {
	CreateSession(ctx context.Context, sess *session.Session, st game.State) error
	LoadSession(ctx context.Context, id string) (*session.Session, game.State, error)
	SaveSession(ctx context.Context, sess *session.Session, st game.State) error
	FindByJoinCode(ctx context.Context, code string) (string, error)
	ListMembers(ctx context.Context, sessionID string) ([]*session.Player, error)
	ListVisible(ctx context.Context, userID string) ([]*session.Session, error)
	Hide(ctx context.Context, sessionID, userID string) error
	HardDelete(ctx context.Context, sessionID string) error
}

// Gorm implements Store on a gorm DB handle.
type Gorm struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the schema.
func Open(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewGorm(db)
}

// NewGorm wraps an existing handle (tests pass sqlite) and migrates.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	err := db.AutoMigrate(
		&SessionRecord{},
		&PlayerRecord{},
		&TrackRecord{},
		&LoadRecord{},
		&GamePhaseRecord{},
		&SessionHide{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateSession(ctx context.Context, sess *session.Session, st game.State) error {
	rec := sessionToRecord(sess)
	rec.Players = playersToRecords(sess, st)
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateJoinCode
			}
			return err
		}
		return savePhase(tx, sess.ID, st)
	})
}

func (g *Gorm) LoadSession(ctx context.Context, id string) (*session.Session, game.State, error) {
	var rec SessionRecord
	err := g.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("seat_order") }).
		Preload("Tracks").
		Preload("Loads").
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, game.State{}, ErrNotFound
	}
	if err != nil {
		return nil, game.State{}, err
	}

	var phase GamePhaseRecord
	if err := g.db.WithContext(ctx).First(&phase, "session_id = ?", id).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, game.State{}, err
		}
		phase = GamePhaseRecord{SessionID: id, Phase: string(game.PhaseLobby)}
	}

	sess := recordToSession(&rec)
	return sess, recordToState(&rec, &phase, sess), nil
}

// SaveSession writes the session row, replaces membership and board
// collections wholesale, and updates the phase record, all in one
// transaction so a failed save leaves the previous state intact.
func (g *Gorm) SaveSession(ctx context.Context, sess *session.Session, st game.State) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := sessionToRecord(sess)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}

		players := playersToRecords(sess, st)
		keep := make([]string, 0, len(players))
		for _, p := range players {
			keep = append(keep, p.ID)
		}
		q := tx.Where("session_id = ?", sess.ID)
		if len(keep) > 0 {
			q = q.Where("id NOT IN ?", keep)
		}
		if err := q.Delete(&PlayerRecord{}).Error; err != nil {
			return err
		}
		if len(players) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&players).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("session_id = ?", sess.ID).Delete(&TrackRecord{}).Error; err != nil {
			return err
		}
		if tracks := tracksToRecords(sess.ID, st.Tracks); len(tracks) > 0 {
			if err := tx.Create(&tracks).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("session_id = ?", sess.ID).Delete(&LoadRecord{}).Error; err != nil {
			return err
		}
		if loads := loadsToRecords(sess.ID, st.Loads); len(loads) > 0 {
			if err := tx.Create(&loads).Error; err != nil {
				return err
			}
		}

		return savePhase(tx, sess.ID, st)
	})
}

// FindByJoinCode resolves a code case-insensitively to a session id.
func (g *Gorm) FindByJoinCode(ctx context.Context, code string) (string, error) {
	var rec SessionRecord
	err := g.db.WithContext(ctx).
		Select("id").
		First(&rec, "join_code = ?", session.NormalizeJoinCode(code)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (g *Gorm) ListMembers(ctx context.Context, sessionID string) ([]*session.Player, error) {
	var recs []PlayerRecord
	err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seat_order").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	players := make([]*session.Player, 0, len(recs))
	for i := range recs {
		players = append(players, recordToPlayer(&recs[i]))
	}
	return players, nil
}

// ListVisible returns sessions the user can see in their lobby list:
// public setup games plus anything they are a member of, minus rows they
// soft-deleted.
func (g *Gorm) ListVisible(ctx context.Context, userID string) ([]*session.Session, error) {
	var recs []SessionRecord
	err := g.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("seat_order") }).
		Where(
			g.db.Where("is_public = ? AND status = ?", true, string(session.StatusSetup)).
				Or("id IN (?)", g.db.Model(&PlayerRecord{}).Select("session_id").Where("user_id = ?", userID)),
		).
		Where("id NOT IN (?)", g.db.Model(&SessionHide{}).Select("session_id").Where("user_id = ?", userID)).
		Order("updated_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	sessions := make([]*session.Session, 0, len(recs))
	for i := range recs {
		sessions = append(sessions, recordToSession(&recs[i]))
	}
	return sessions, nil
}

// Hide soft-deletes a session from one user's visible list only.
func (g *Gorm) Hide(ctx context.Context, sessionID, userID string) error {
	hide := SessionHide{SessionID: sessionID, UserID: userID}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&hide).Error
}

// HardDelete permanently removes the session and cascades to membership,
// track, and load records.
func (g *Gorm) HardDelete(ctx context.Context, sessionID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Explicit child deletes so the cascade holds even on databases
		// where AutoMigrate could not install the FK constraint.
		for _, model := range []any{&PlayerRecord{}, &TrackRecord{}, &LoadRecord{}, &GamePhaseRecord{}, &SessionHide{}} {
			if err := tx.Where("session_id = ?", sessionID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&SessionRecord{}, "id = ?", sessionID).Error
	})
}

func savePhase(tx *gorm.DB, sessionID string, st game.State) error {
	phase := GamePhaseRecord{
		SessionID:         sessionID,
		Phase:             string(st.Phase),
		Round:             st.Round,
		CurrentTurnUserID: st.CurrentTurnUserID,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&phase).Error
}

func sessionToRecord(s *session.Session) SessionRecord {
	return SessionRecord{
		ID:         s.ID,
		JoinCode:   session.NormalizeJoinCode(s.JoinCode),
		OwnerID:    s.OwnerID,
		Status:     string(s.Status),
		MaxPlayers: s.MaxPlayers,
		IsPublic:   s.IsPublic,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func playersToRecords(s *session.Session, st game.State) []PlayerRecord {
	recs := make([]PlayerRecord, 0, len(s.Players))
	for i, p := range s.Players {
		rec := PlayerRecord{
			ID:        p.ID,
			SessionID: s.ID,
			UserID:    p.UserID,
			Name:      p.Name,
			Color:     p.Color,
			IsOnline:  p.IsOnline,
			SeatOrder: i,
			Cash:      st.Cash[p.ID],
		}
		if p.Bot != nil {
			rec.BotDifficulty = p.Bot.Difficulty
			rec.BotArchetype = p.Bot.Archetype
		}
		recs = append(recs, rec)
	}
	return recs
}

func tracksToRecords(sessionID string, tracks []game.TrackSegment) []TrackRecord {
	recs := make([]TrackRecord, 0, len(tracks))
	for _, t := range tracks {
		recs = append(recs, TrackRecord{
			ID:        t.ID,
			SessionID: sessionID,
			OwnerID:   t.OwnerID,
			FromCity:  t.FromCity,
			ToCity:    t.ToCity,
			Cost:      t.Cost,
		})
	}
	return recs
}

func loadsToRecords(sessionID string, loads []game.Load) []LoadRecord {
	recs := make([]LoadRecord, 0, len(loads))
	for _, l := range loads {
		recs = append(recs, LoadRecord{
			ID:        l.ID,
			SessionID: sessionID,
			Kind:      l.Kind,
			FromCity:  l.FromCity,
			ToCity:    l.ToCity,
			CarrierID: l.CarrierID,
		})
	}
	return recs
}

func recordToSession(rec *SessionRecord) *session.Session {
	s := &session.Session{
		ID:         rec.ID,
		JoinCode:   rec.JoinCode,
		OwnerID:    rec.OwnerID,
		Status:     session.Status(rec.Status),
		MaxPlayers: rec.MaxPlayers,
		IsPublic:   rec.IsPublic,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	for i := range rec.Players {
		s.Players = append(s.Players, recordToPlayer(&rec.Players[i]))
	}
	return s
}

func recordToPlayer(rec *PlayerRecord) *session.Player {
	p := &session.Player{
		ID:       rec.ID,
		UserID:   rec.UserID,
		Name:     rec.Name,
		Color:    rec.Color,
		IsOnline: rec.IsOnline,
	}
	if rec.BotDifficulty != "" || rec.BotArchetype != "" {
		p.Bot = &session.BotProfile{Difficulty: rec.BotDifficulty, Archetype: rec.BotArchetype}
	}
	return p
}

func recordToState(rec *SessionRecord, phase *GamePhaseRecord, sess *session.Session) game.State {
	st := game.NewState()
	st.Phase = game.Phase(phase.Phase)
	st.Round = phase.Round
	st.CurrentTurnUserID = phase.CurrentTurnUserID
	st.Players = sess.PlayerViews()
	for i := range rec.Players {
		st.Cash[rec.Players[i].ID] = rec.Players[i].Cash
	}
	for _, t := range rec.Tracks {
		st.Tracks = append(st.Tracks, game.TrackSegment{
			ID: t.ID, OwnerID: t.OwnerID, FromCity: t.FromCity, ToCity: t.ToCity, Cost: t.Cost,
		})
	}
	for _, l := range rec.Loads {
		st.Loads = append(st.Loads, game.Load{
			ID: l.ID, Kind: l.Kind, FromCity: l.FromCity, ToCity: l.ToCity, CarrierID: l.CarrierID,
		})
	}
	return st
}
