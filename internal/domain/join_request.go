package domain

import (
	"fmt"
	"strings"
	"time"
)

// JoinRequestStatus 是加入申请的状态，非 pending 状态为终态。
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

// ParseJoinRequestStatus 解析查询参数中的状态过滤值。
func ParseJoinRequestStatus(s string) (JoinRequestStatus, error) {
	switch st := JoinRequestStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case JoinRequestPending, JoinRequestApproved, JoinRequestRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown join request status %q", s)
	}
}

// ReviewDecision 是房主对加入申请可执行的操作。
type ReviewDecision int

const (
	ReviewApprove ReviewDecision = iota + 1
	ReviewReject
)

func (d ReviewDecision) String() string {
	switch d {
	case ReviewApprove:
		return "approve"
	case ReviewReject:
		return "reject"
	default:
		return fmt.Sprintf("ReviewDecision(%d)", int(d))
	}
}

// reviewTransitions 是加入申请的状态转移表，只有 pending 可以被审核。
var reviewTransitions = map[JoinRequestStatus]map[ReviewDecision]JoinRequestStatus{
	JoinRequestPending: {
		ReviewApprove: JoinRequestApproved,
		ReviewReject:  JoinRequestRejected,
	},
}

// JoinRequest 是用户申请加入 approval 房间的记录。
type JoinRequest struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	RoomID      uint              `gorm:"index;not null" json:"room_id"`
	UserID      uint              `gorm:"index;not null" json:"user_id"`
	Status      JoinRequestStatus `gorm:"size:16;not null;index" json:"status"`
	PendingKey  *string           `gorm:"uniqueIndex;size:64" json:"-"` // pending 时为 "room:user"，保证同一用户只有一个待处理申请
	RequestedAt time.Time         `gorm:"not null" json:"requested_at"`
	RespondedAt *time.Time        `json:"responded_at"`
	ConsumedAt  *time.Time        `json:"-"` // 已批准的申请被一次 join 使用后记录
}

// PendingKeyFor 生成 pending 唯一键。
func PendingKeyFor(roomID, userID uint) *string {
	k := fmt.Sprintf("%d:%d", roomID, userID)
	return &k
}

// Review 按状态转移表应用审核决定，非法转移返回 false 且不修改记录。
func (r *JoinRequest) Review(decision ReviewDecision, at time.Time) bool {
	next, ok := reviewTransitions[r.Status][decision]
	if !ok {
		return false
	}
	r.Status = next
	r.PendingKey = nil
	r.RespondedAt = &at
	return true
}

// Usable 报告该申请是否可以让用户直接加入房间。
func (r *JoinRequest) Usable() bool {
	return r != nil && r.Status == JoinRequestApproved && r.ConsumedAt == nil
}
