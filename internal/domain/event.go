package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType 是推送给房间订阅者的事件种类。
type EventType string

const (
	EventConnected           EventType = "connected"
	EventRoomUpdated         EventType = "room_updated"
	EventRoomDeleted         EventType = "room_deleted"
	EventUserJoined          EventType = "user_joined"
	EventUserLeft            EventType = "user_left"
	EventJoinRequestReceived EventType = "join_request_received"
	EventSongAdded           EventType = "song_added"
	EventSongRemoved         EventType = "song_removed"
	EventSongsReordered      EventType = "songs_reordered"
	EventPlaylistImported    EventType = "playlist_imported"
	EventMessageSent         EventType = "message_sent"
)

// Event 是一次房间广播。Payload 只包含变化的字段，序列化时与 type、room_id 展平到同一层。
type Event struct {
	Type    EventType
	RoomID  uint
	Payload interface{}
}

// MarshalJSON 输出 {"type": ..., "room_id": ..., <payload 字段>}。
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("event payload for %s must be a JSON object: %w", e.Type, err)
		}
	}
	typeRaw, _ := json.Marshal(e.Type)
	roomRaw, _ := json.Marshal(e.RoomID)
	fields["type"] = typeRaw
	fields["room_id"] = roomRaw
	return json.Marshal(fields)
}

// UnmarshalJSON 是 MarshalJSON 的逆操作，Payload 解码为 json.RawMessage（仅含变化字段）。
func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &e.Type); err != nil {
			return fmt.Errorf("decode event type: %w", err)
		}
	}
	if raw, ok := fields["room_id"]; ok {
		if err := json.Unmarshal(raw, &e.RoomID); err != nil {
			return fmt.Errorf("decode event room_id: %w", err)
		}
	}
	delete(fields, "type")
	delete(fields, "room_id")
	if len(fields) == 0 {
		e.Payload = nil
		return nil
	}
	rest, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	e.Payload = json.RawMessage(rest)
	return nil
}

// --- 各事件的负载 ---

type UserPresencePayload struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

type JoinRequestPayload struct {
	RequestID uint   `json:"request_id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
}

type RoomUpdatedPayload struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	AccessPolicy AccessPolicy `json:"access_policy"`
}

type SongAddedPayload struct {
	SongID uint   `json:"song_id"`
	Title  string `json:"title"`
	Number *int   `json:"number,omitempty"`
	Order  int    `json:"order"`
}

type SongRemovedPayload struct {
	SongID uint `json:"song_id"`
}

type SongsReorderedPayload struct {
	Orders []SongOrder `json:"song_orders"`
}

type PlaylistImportedPayload struct {
	PlaylistID uint `json:"playlist_id"`
	Imported   int  `json:"imported"`
}

type MessageSentPayload struct {
	MessageID uint      `json:"message_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
