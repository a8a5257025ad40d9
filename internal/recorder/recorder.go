// Package recorder keeps a message log in Postgres when DATABASE_URL is
// configured. Recording is strictly best-effort: it never blocks or
// fails a send.
package recorder

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Message is one logged inbound or outbound message.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID string    `gorm:"index"`
	JID       string    `gorm:"index"`
	Direction string    // "sent" / "received"
	Body      string
	Meta      datatypes.JSON
	CreatedAt time.Time
}

// Recorder is consumed by the send pipeline and receive path.
type Recorder interface {
	Sent(jid, messageID, body string)
	Received(jid, messageID, body string)
}

// New returns a Postgres-backed recorder, or a no-op one when connStr is
// empty or the database is unreachable.
func New(connStr string) Recorder {
	if connStr == "" {
		return noop{}
	}

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Message recorder disabled: database unreachable")
		return noop{}
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		log.Warn().Err(err).Msg("Message recorder disabled: migration failed")
		return noop{}
	}

	log.Info().Msg("✅ Message recorder connected")
	return &pgRecorder{db: db}
}

type pgRecorder struct {
	db *gorm.DB
}

func (r *pgRecorder) Sent(jid, messageID, body string)     { r.insert(jid, messageID, body, "sent") }
func (r *pgRecorder) Received(jid, messageID, body string) { r.insert(jid, messageID, body, "received") }

func (r *pgRecorder) insert(jid, messageID, body, direction string) {
	meta, _ := json.Marshal(map[string]interface{}{"length": len(body)})
	row := Message{
		ID:        uuid.New(),
		MessageID: messageID,
		JID:       jid,
		Direction: direction,
		Body:      body,
		Meta:      datatypes.JSON(meta),
	}
	if err := r.db.Create(&row).Error; err != nil {
		log.Warn().Err(err).Str("direction", direction).Msg("Failed to record message")
	}
}

type noop struct{}

func (noop) Sent(string, string, string)     {}
func (noop) Received(string, string, string) {}
