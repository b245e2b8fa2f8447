package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/voice"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// SessionMeta describes the musical setup a session starts with.
type SessionMeta struct {
	StartedAt time.Time
	BPM       float64
	Root      theory.NoteName
	Scale     theory.ScaleName
	Rows      int
	Cols      int
}

// Session is a journalled performance.
type Session struct {
	ID        string           `json:"session_id"`
	StartedAt time.Time        `json:"started_at"`
	BPM       float64          `json:"bpm"`
	Root      theory.NoteName  `json:"root"`
	Scale     theory.ScaleName `json:"scale"`
	Rows      int              `json:"rows"`
	Cols      int              `json:"cols"`
	NoteCount int              `json:"note_count"`
}

// NoteEvent is one journalled trigger.
type NoteEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Voice     voice.ID       `json:"voice"`
	Note      string         `json:"note,omitempty"`
	MIDI      uint8          `json:"midi"`
	Duration  voice.Duration `json:"duration"`
	At        time.Time      `json:"at"`
	Step      int            `json:"step"`
	Velocity  uint8          `json:"velocity"`
}

// Trigger rebuilds the sink trigger the event was recorded from.
func (e NoteEvent) Trigger() (voice.Trigger, error) {
	t := voice.Trigger{
		Voice:    e.Voice,
		Duration: e.Duration,
		At:       e.At,
		Step:     e.Step,
		Velocity: e.Velocity,
	}
	if e.Note != "" {
		n, err := theory.ParseNote(e.Note)
		if err != nil {
			return voice.Trigger{}, fmt.Errorf("event %d: %w", e.ID, err)
		}
		t.Note = n
		t.HasPitch = true
	}
	return t, nil
}

// StartSession records a new session and returns it with a fresh id.
func (db *DB) StartSession(meta SessionMeta) (Session, error) {
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}
	s := Session{
		ID:        uuid.NewString(),
		StartedAt: meta.StartedAt,
		BPM:       meta.BPM,
		Root:      meta.Root,
		Scale:     meta.Scale,
		Rows:      meta.Rows,
		Cols:      meta.Cols,
	}
	_, err := db.Exec(`INSERT INTO sessions (session_id, started_at, bpm, root, scale, rows, cols)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.BPM, string(s.Root), string(s.Scale), s.Rows, s.Cols)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

const sessionColumns = `s.session_id, s.started_at, s.bpm, s.root, s.scale, s.rows, s.cols,
	(SELECT COUNT(*) FROM note_events n WHERE n.session_id = s.session_id)`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s             Session
		started       int64
		root, scaleNm string
	)
	if err := row.Scan(&s.ID, &started, &s.BPM, &root, &scaleNm, &s.Rows, &s.Cols, &s.NoteCount); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	s.Root = theory.NoteName(root)
	s.Scale = theory.ScaleName(scaleNm)
	return s, nil
}

// Session looks up one session by id.
func (db *DB) Session(id string) (Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return s, nil
}

// Sessions lists every session, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordNote appends a trigger to a session.
func (db *DB) RecordNote(ctx context.Context, sessionID string, t voice.Trigger) error {
	if !t.Voice.Valid() {
		return fmt.Errorf("%w: %d", voice.ErrUnknownVoice, int(t.Voice))
	}
	note := ""
	if t.HasPitch && t.Voice != voice.Noise {
		note = t.Note.String()
	}
	_, err := db.ExecContext(ctx, `INSERT INTO note_events
		(session_id, voice, note, midi, duration, at_nanos, step, velocity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, t.Voice.String(), note, int(voice.KeyFor(t)), string(t.Duration),
		t.At.UnixNano(), t.Step, int(t.Velocity))
	if err != nil {
		return fmt.Errorf("insert note event: %w", err)
	}
	return nil
}

// Notes returns a session's events in trigger order.
func (db *DB) Notes(sessionID string) ([]NoteEvent, error) {
	rows, err := db.Query(`SELECT id, session_id, voice, note, midi, duration, at_nanos, step, velocity
		FROM note_events WHERE session_id = ? ORDER BY at_nanos, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []NoteEvent
	for rows.Next() {
		var (
			e            NoteEvent
			voiceName    string
			midiKey, vel int
			dur          string
			at           int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &voiceName, &e.Note, &midiKey, &dur, &at, &e.Step, &vel); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		if e.Voice, err = voice.ParseID(voiceName); err != nil {
			return nil, fmt.Errorf("note %d: %w", e.ID, err)
		}
		e.MIDI = uint8(midiKey)
		e.Velocity = uint8(vel)
		e.Duration = voice.Duration(dur)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExportSMF writes a session as a Standard MIDI File at the session tempo,
// with tick zero at the session start.
func (db *DB) ExportSMF(sessionID string, w io.Writer) (int64, error) {
	s, err := db.Session(sessionID)
	if err != nil {
		return 0, err
	}
	events, err := db.Notes(sessionID)
	if err != nil {
		return 0, err
	}
	rec := voice.NewRecorder(s.BPM, s.StartedAt)
	for _, e := range events {
		t, err := e.Trigger()
		if err != nil {
			return 0, err
		}
		if err := rec.TriggerNote(context.Background(), t); err != nil {
			return 0, err
		}
	}
	return rec.WriteTo(w)
}

// JournalSink records triggers into one session. It implements voice.Sink.
type JournalSink struct {
	db        *DB
	sessionID string
	written   atomic.Int64
}

// Journal returns a sink writing into sessionID.
func (db *DB) Journal(sessionID string) *JournalSink {
	return &JournalSink{db: db, sessionID: sessionID}
}

// SessionID returns the session the sink writes into.
func (j *JournalSink) SessionID() string { return j.sessionID }

// Written returns the number of events stored so far.
func (j *JournalSink) Written() int64 { return j.written.Load() }

// TriggerNote implements voice.Sink.
func (j *JournalSink) TriggerNote(ctx context.Context, t voice.Trigger) error {
	if err := j.db.RecordNote(ctx, j.sessionID, t); err != nil {
		return err
	}
	j.written.Add(1)
	return nil
}
