package wa

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ardiansr/wa-bridge/internal/fingerprint"
)

// Meow adapts a whatsmeow client to the Client interface and fans its
// event stream out as normalized events.
type Meow struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	onEvent   func(interface{})

	qrMu   sync.Mutex
	qrCode string
	qrPNG  []byte
}

// NewMeow initializes the session store (Postgres when storeURL is set,
// local SQLite otherwise), applies the fingerprint to the device props,
// and builds the client. Reconnection is owned by the supervisor, so the
// library's auto-reconnect stays off.
func NewMeow(storeURL string, fp fingerprint.Record, onEvent func(interface{})) (*Meow, error) {
	container, err := initStore(storeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	applyFingerprint(fp)

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)
	client.EnableAutoReconnect = false

	m := &Meow{client: client, container: container, onEvent: onEvent}
	client.AddEventHandler(m.handleEvent)
	return m, nil
}

func initStore(storeURL string) (*sqlstore.Container, error) {
	ctx := context.Background()
	dbLog := waLog.Stdout("Database", "ERROR", true)

	if storeURL != "" {
		log.Info().Msg("🌐 Using PostgreSQL database for WhatsApp store")
		container, err := sqlstore.New(ctx, "postgres", storeURL, dbLog)
		if err != nil {
			return nil, fmt.Errorf("failed to init PostgreSQL store: %w", err)
		}
		if err := container.Upgrade(ctx); err != nil {
			return nil, fmt.Errorf("failed to upgrade PostgreSQL schema: %w", err)
		}
		return container, nil
	}

	log.Info().Msg("💾 Using local SQLite store (store.db)")
	rawDB, err := sql.Open("sqlite", "file:store.db?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err = rawDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		log.Warn().Err(err).Msg("Failed to enable foreign_keys pragma")
	}

	container := sqlstore.NewWithDB(rawDB, "sqlite", dbLog)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade SQLite schema: %w", err)
	}
	return container, nil
}

// applyFingerprint presents the rotated identity at pairing time.
func applyFingerprint(fp fingerprint.Record) {
	platform := waCompanionReg.DeviceProps_CHROME
	switch fp.Product {
	case "Firefox":
		platform = waCompanionReg.DeviceProps_FIREFOX
	case "Edge":
		platform = waCompanionReg.DeviceProps_EDGE
	case "Safari":
		platform = waCompanionReg.DeviceProps_SAFARI
	}
	osName := fmt.Sprintf("%s (%s %s)", fp.OS, fp.Product, fp.Version)

	store.DeviceProps.PlatformType = &platform
	store.DeviceProps.Os = &osName
}

// Connect starts the socket. On a fresh device it also drains the QR
// channel, keeping the latest code available for the pairing endpoint.
func (m *Meow) Connect() error {
	if m.client.Store.ID == nil {
		qrChan, err := m.client.GetQRChannel(context.Background())
		if err == nil {
			go m.drainQR(qrChan)
		}
	}
	return m.client.Connect()
}

func (m *Meow) drainQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to render pairing QR")
				png = nil
			}
			m.qrMu.Lock()
			m.qrCode = evt.Code
			m.qrPNG = png
			m.qrMu.Unlock()
			m.onEvent(EventPairing{Code: evt.Code})
		case "success":
			m.qrMu.Lock()
			m.qrCode = ""
			m.qrPNG = nil
			m.qrMu.Unlock()
			log.Info().Msg("✅ Pairing successful")
			return
		case "timeout":
			log.Warn().Msg("Pairing QR timed out")
			return
		}
	}
}

// QR returns the latest pairing code and its PNG rendering, empty when
// no pairing is in progress.
func (m *Meow) QR() (string, []byte) {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	return m.qrCode, m.qrPNG
}

func (m *Meow) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		m.onEvent(EventOpened{})

	case *events.Disconnected:
		m.onEvent(EventClosed{Disposition: DispositionRetryable, Reason: "disconnected"})

	case *events.ConnectFailure:
		m.onEvent(EventClosed{Disposition: DispositionRetryable, Reason: fmt.Sprintf("connect failure: %v", v.Reason)})

	case *events.LoggedOut:
		m.onEvent(EventClosed{Disposition: DispositionLoggedOut, Reason: fmt.Sprintf("logged out: %v", v.Reason)})

	case *events.StreamReplaced:
		m.onEvent(EventClosed{Disposition: DispositionBadSession, Reason: "stream replaced"})

	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		m.onEvent(EventMessage{Message: normalizeMessage(v)})

	case *events.Receipt:
		status := ""
		switch v.Type {
		case types.ReceiptTypeRead:
			status = "READ"
		case types.ReceiptTypeDelivered:
			status = "DELIVERED"
		default:
			return
		}
		ids := make([]string, 0, len(v.MessageIDs))
		for _, id := range v.MessageIDs {
			ids = append(ids, string(id))
		}
		m.onEvent(EventReceipt{MessageIDs: ids, Status: status})
	}
}

func normalizeMessage(v *events.Message) Inbound {
	in := Inbound{
		From:      v.Info.Chat.String(),
		Sender:    v.Info.Sender.String(),
		MessageID: string(v.Info.ID),
		IsGroup:   v.Info.IsGroup,
	}
	if v.Info.IsGroup {
		in.GroupID = v.Info.Chat.String()
	}
	if conv := v.Message.GetConversation(); conv != "" {
		in.Text = conv
	} else if ext := v.Message.GetExtendedTextMessage(); ext != nil {
		in.Text = ext.GetText()
		if ctx := ext.GetContextInfo(); ctx != nil {
			in.QuotedID = ctx.GetStanzaID()
		}
	}
	return in
}

func (m *Meow) Disconnect() { m.client.Disconnect() }

func (m *Meow) IsConnected() bool { return m.client.IsConnected() }

func (m *Meow) IsLoggedIn() bool { return m.client.IsLoggedIn() }

func (m *Meow) SendText(ctx context.Context, jid, text, replyTo string) (string, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", jid, err)
	}

	var msg *waE2E.Message
	if replyTo != "" {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(replyTo),
					Participant:   proto.String(target.String()),
					QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
				},
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	}

	resp, err := m.client.SendMessage(ctx, target, msg)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (m *Meow) SubscribePresence(ctx context.Context, jid string) error {
	target, err := types.ParseJID(jid)
	if err != nil {
		return err
	}
	return m.client.SubscribePresence(ctx, target)
}

func (m *Meow) SendChatPresence(ctx context.Context, jid string, state ChatState) error {
	target, err := types.ParseJID(jid)
	if err != nil {
		return err
	}
	ps := types.ChatPresenceComposing
	if state == ChatPaused {
		ps = types.ChatPresencePaused
	}
	return m.client.SendChatPresence(ctx, target, ps, types.ChatPresenceMediaText)
}

func (m *Meow) SendPresence(ctx context.Context, online bool) error {
	presence := types.PresenceAvailable
	if !online {
		presence = types.PresenceUnavailable
	}
	return m.client.SendPresence(ctx, presence)
}

func (m *Meow) MarkRead(ctx context.Context, chat, sender string, ids []string) error {
	chatJID, err := types.ParseJID(chat)
	if err != nil {
		return err
	}
	senderJID, err := types.ParseJID(sender)
	if err != nil {
		return err
	}
	msgIDs := make([]types.MessageID, 0, len(ids))
	for _, id := range ids {
		msgIDs = append(msgIDs, types.MessageID(id))
	}
	return m.client.MarkRead(ctx, msgIDs, time.Now(), chatJID, senderJID)
}

func (m *Meow) WipeSession(ctx context.Context) error {
	if err := m.client.Store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to wipe session: %w", err)
	}
	return nil
}

func (m *Meow) SelfJID() string {
	if m.client.Store.ID == nil {
		return ""
	}
	return m.client.Store.ID.User
}

func (m *Meow) PushName() string { return m.client.Store.PushName }
