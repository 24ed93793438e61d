// Package access 根据房间的访问策略对一次加入尝试进行分类。
// 这里没有任何副作用，结果由调用方落实。
package access

import (
	"fmt"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// Outcome 是一次加入尝试的分类结果
type Outcome int

const (
	Allow Outcome = iota + 1
	Deny
	RequiresRequest
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RequiresRequest:
		return "requires_request"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Reason 说明 Deny 或 RequiresRequest 的原因，也作为接口返回的错误码
type Reason string

const (
	ReasonPasswordRequired Reason = "password_required"
	ReasonInvalidPassword  Reason = "invalid_password"
	ReasonApprovalRequired Reason = "approval_required"
	ReasonClosedToRequests Reason = "closed_to_requests"
	ReasonUnknownPolicy    Reason = "unknown_policy"
)

// Decision 是 Evaluate 的返回值，Allow 时 Reason 为空
type Decision struct {
	Outcome Outcome
	Reason  Reason
}

func allow() Decision { return Decision{Outcome: Allow} }

func deny(reason Reason) Decision { return Decision{Outcome: Deny, Reason: reason} }

func requiresRequest() Decision {
	return Decision{Outcome: RequiresRequest, Reason: ReasonApprovalRequired}
}

// Allowed 报告结果是否为 Allow
func (d Decision) Allowed() bool { return d.Outcome == Allow }

func (d Decision) String() string { return d.Outcome.String() + ":" + string(d.Reason) }

// Attempt 描述一次加入尝试。调用方负责预先查好参与者身份和已批准的申请。
type Attempt struct {
	UserID        uint
	Secret        *string
	IsParticipant bool
	// Approved 是该用户在此房间中已批准且尚未使用的申请，没有时为 nil
	Approved *domain.JoinRequest
}

// SecretVerifier 校验密码与哈希是否匹配，需要是常量时间比较
type SecretVerifier interface {
	Verify(hash, secret string) bool
}

// Evaluate 对加入尝试分类。
// Password 房间每次加入都要校验密码，参与者和房主也不例外；
// Approval 房间中参与者和房主直接 Allow，不会再消费已批准的申请。
func Evaluate(room *domain.Room, attempt Attempt, verifier SecretVerifier) Decision {
	switch room.AccessPolicy {
	case domain.AccessPublic:
		return allow()

	case domain.AccessPassword:
		if attempt.Secret == nil || *attempt.Secret == "" {
			return deny(ReasonPasswordRequired)
		}
		if room.PasswordHash == nil || !verifier.Verify(*room.PasswordHash, *attempt.Secret) {
			return deny(ReasonInvalidPassword)
		}
		return allow()

	case domain.AccessApproval:
		if attempt.IsParticipant || room.IsCreator(attempt.UserID) {
			return allow()
		}
		if attempt.Approved.Usable() && attempt.Approved.RoomID == room.ID && attempt.Approved.UserID == attempt.UserID {
			return allow()
		}
		if room.AcceptsJoinRequests {
			return requiresRequest()
		}
		return deny(ReasonClosedToRequests)

	default:
		return deny(ReasonUnknownPolicy)
	}
}
