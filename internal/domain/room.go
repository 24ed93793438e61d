package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccessPolicy 决定用户如何成为房间参与者。
type AccessPolicy string

const (
	AccessPublic   AccessPolicy = "public"   // 任何人可直接加入
	AccessPassword AccessPolicy = "password" // 需要提供房间密码
	AccessApproval AccessPolicy = "approval" // 需要房主审批加入申请
)

// ParseAccessPolicy 在边界处把字符串解析为封闭的枚举值，未知值返回错误。
func ParseAccessPolicy(s string) (AccessPolicy, error) {
	switch p := AccessPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case AccessPublic, AccessPassword, AccessApproval:
		return p, nil
	case "":
		return AccessPublic, nil
	default:
		return "", fmt.Errorf("unknown access policy %q", s)
	}
}

// Room 表示一个协作房间。
type Room struct {
	ID                  uint         `gorm:"primaryKey" json:"id"`
	Code                string       `gorm:"uniqueIndex;size:16;not null" json:"code"` // 短邀请码，全局唯一
	Name                string       `gorm:"size:255;not null" json:"name"`
	Description         string       `gorm:"size:1000" json:"description"`
	CreatorID           uint         `gorm:"index;not null" json:"creator_id"`
	AccessPolicy        AccessPolicy `gorm:"size:16;not null;index" json:"access_policy"`
	PasswordHash        *string      `gorm:"size:255" json:"-"`                         // 仅当 AccessPolicy == password 时非空
	AcceptsJoinRequests bool         `gorm:"not null;default:false" json:"accepts_join_requests"`
	AutoDestroyOnEmpty  bool         `gorm:"not null" json:"auto_destroy_on_empty"`
	CreatedAt           time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	LastActivityAt      time.Time    `gorm:"index;not null" json:"last_activity_at"`
}

// IsCreator 报告 userID 是否为房主。
func (r *Room) IsCreator(userID uint) bool { return r != nil && r.CreatorID == userID }

// Participant 表示房间内的一个成员，(room_id, user_id) 唯一。
type Participant struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RoomID     uint      `gorm:"uniqueIndex:idx_participant_room_user;not null" json:"room_id"`
	UserID     uint      `gorm:"uniqueIndex:idx_participant_room_user;index;not null" json:"user_id"`
	JoinedAt   time.Time `gorm:"not null" json:"joined_at"`
	LastSeenAt time.Time `gorm:"not null" json:"last_seen_at"`
}

// MaxMessageLength 是聊天消息允许的最大字符数（按 Unicode 码点计算）。
const MaxMessageLength = 140

// Message 是房间聊天中的一条消息，只追加不修改。
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    uint      `gorm:"index:idx_message_room_created;not null" json:"room_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Text      string    `gorm:"size:560;not null" json:"message"` // 140 个码点，utf8mb4 下最多 560 字节
	CreatedAt time.Time `gorm:"index:idx_message_room_created;not null" json:"created_at"`
}

// RoomSong 是房间共享歌单中的一项，(room_id, song_id) 唯一。
type RoomSong struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	RoomID  uint      `gorm:"uniqueIndex:idx_room_song;not null" json:"room_id"`
	SongID  uint      `gorm:"uniqueIndex:idx_room_song;not null" json:"song_id"`
	Order   int       `gorm:"column:sort_order;not null;default:0" json:"order"`
	AddedAt time.Time `gorm:"not null" json:"added_at"`
}

// SongOrder 是重新排序请求中的一项。
type SongOrder struct {
	SongID uint `json:"song_id"`
	Order  int  `json:"order"`
}
