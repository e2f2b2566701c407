package model

import "time"

// Transcription is one stored engine result: a transcribe or diarize run for
// a single uploaded file. Result holds the engine's JSON payload verbatim.
type Transcription struct {
	ID            int64     `json:"id" db:"id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	Username      string    `json:"username" db:"username"`
	Filename      string    `json:"filename" db:"filename"`
	Mode          string    `json:"mode" db:"mode"` // transcribe or diarize
	Result        string    `json:"-" db:"result_json"`
	FileSize      int64     `json:"file_size" db:"file_size"`
	ProcessingSec int       `json:"processing_duration_sec" db:"processing_duration_sec"`
	AudioSec      int       `json:"audio_duration_sec" db:"audio_duration_sec"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// AuditRecord is one persisted audit event. Data holds the event fields as a
// JSON object; RequestID correlates all events emitted by one request.
type AuditRecord struct {
	ID        int64     `json:"id" db:"id"`
	Category  string    `json:"category" db:"category"`
	RequestID string    `json:"request_id" db:"request_id"`
	Data      string    `json:"data" db:"data_json"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
