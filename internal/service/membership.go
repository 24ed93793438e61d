package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/access"
	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/repository"
)

// JoinRequestView 是带申请人显示名的加入申请
type JoinRequestView struct {
	domain.JoinRequest
	Username string `json:"username"`
}

// JoinByID 通过房间 ID 加入房间，secret 仅对 password 房间有意义。
func (s *RoomService) JoinByID(ctx context.Context, roomID, userID uint, secret *string) (*RoomDetail, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, logCtx, room, userID, secret)
}

// JoinByCode 通过房间码加入房间
func (s *RoomService) JoinByCode(ctx context.Context, code string, userID uint, secret *string) (*RoomDetail, error) {
	logCtx := logrus.WithFields(logrus.Fields{"code": code, "user_id": userID})
	room, err := s.loadRoomByCode(ctx, logCtx, code)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, logCtx.WithField("room_id", room.ID), room, userID, secret)
}

func (s *RoomService) join(ctx context.Context, logCtx *logrus.Entry, room *domain.Room, userID uint, secret *string) (*RoomDetail, error) {
	// 1. 收集访问判定需要的事实
	isParticipant, err := s.store.IsParticipant(ctx, room.ID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to check participant")
		return nil, ErrInternalServer
	}
	attempt := access.Attempt{UserID: userID, Secret: secret, IsParticipant: isParticipant}
	if !isParticipant && room.AccessPolicy == domain.AccessApproval {
		approved, err := s.store.FindUsableJoinRequest(ctx, room.ID, userID)
		if err != nil && !errors.Is(err, repository.ErrJoinRequestNotFound) {
			logCtx.WithError(err).Error("Failed to look up approved join request")
			return nil, ErrInternalServer
		}
		attempt.Approved = approved
	}

	// 2. 判定
	decision := access.Evaluate(room, attempt, s.hasher)
	if !decision.Allowed() {
		logCtx.WithField("decision", decision.String()).Info("Join denied")
		return nil, s.decisionError(ctx, logCtx, room, userID, decision)
	}

	// 3. 写入参与者；使用已批准的申请时一并标记为已消费
	now := s.now().UTC()
	err = s.store.Transaction(ctx, func(tx repository.RoomStore) error {
		if err := tx.UpsertParticipant(ctx, room.ID, userID, now); err != nil {
			return err
		}
		if attempt.Approved.Usable() {
			attempt.Approved.ConsumedAt = &now
			return tx.SaveJoinRequest(ctx, attempt.Approved)
		}
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to add participant")
		return nil, ErrInternalServer
	}

	// 4. 广播
	s.bus.Publish(room.ID, domain.Event{
		Type:    domain.EventUserJoined,
		Payload: domain.UserPresencePayload{UserID: userID, Username: s.displayName(ctx, userID)},
	})
	logCtx.Info("User joined room")

	room.LastActivityAt = now
	return s.buildDetail(ctx, logCtx, room, userID)
}

// decisionError 把访问判定转换为带原因码的错误
func (s *RoomService) decisionError(ctx context.Context, logCtx *logrus.Entry, room *domain.Room, userID uint, d access.Decision) error {
	if d.Outcome == access.RequiresRequest {
		_, err := s.store.FindPendingJoinRequest(ctx, room.ID, userID)
		switch {
		case err == nil:
			return ErrApprovalPending
		case errors.Is(err, repository.ErrJoinRequestNotFound):
			return ErrMustRequestJoin
		default:
			logCtx.WithError(err).Error("Failed to look up pending join request")
			return ErrInternalServer
		}
	}
	switch d.Reason {
	case access.ReasonPasswordRequired:
		return ErrPasswordRequired
	case access.ReasonInvalidPassword:
		return ErrInvalidPassword
	case access.ReasonClosedToRequests:
		return ErrClosedToRequests
	default:
		return newError(ErrForbidden, string(d.Reason), "access denied")
	}
}

// RequestJoin 为 approval 房间创建一个待审核的加入申请，并通知房间。
func (s *RoomService) RequestJoin(ctx context.Context, code string, userID uint) (*domain.JoinRequest, error) {
	logCtx := logrus.WithFields(logrus.Fields{"code": code, "user_id": userID})

	// 1. 校验房间状态
	room, err := s.loadRoomByCode(ctx, logCtx, code)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.WithField("room_id", room.ID)
	if room.AccessPolicy != domain.AccessApproval {
		return nil, ErrNotApprovalRoom
	}
	if !room.AcceptsJoinRequests {
		return nil, ErrNotAcceptingRequests
	}
	isParticipant, err := s.store.IsParticipant(ctx, room.ID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to check participant")
		return nil, ErrInternalServer
	}
	if isParticipant || room.IsCreator(userID) {
		return nil, ErrAlreadyMember
	}

	// 2. 持久化；pending_key 唯一索引保证同一用户只有一个待处理申请
	req := &domain.JoinRequest{
		RoomID:      room.ID,
		UserID:      userID,
		Status:      domain.JoinRequestPending,
		PendingKey:  domain.PendingKeyFor(room.ID, userID),
		RequestedAt: s.now().UTC(),
	}
	if err := s.store.CreateJoinRequest(ctx, req); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Info("Join request already pending")
			return nil, ErrAlreadyPending
		}
		logCtx.WithError(err).Error("Failed to create join request")
		return nil, ErrInternalServer
	}

	// 3. 广播
	s.bus.Publish(room.ID, domain.Event{
		Type: domain.EventJoinRequestReceived,
		Payload: domain.JoinRequestPayload{
			RequestID: req.ID,
			UserID:    userID,
			Username:  s.displayName(ctx, userID),
		},
	})
	logCtx.WithField("request_id", req.ID).Info("Join request created")
	return req, nil
}

// ApproveJoinRequest 批准申请并把申请人加入房间
func (s *RoomService) ApproveJoinRequest(ctx context.Context, roomID, requestID, actorID uint) (*domain.JoinRequest, error) {
	return s.ReviewJoinRequest(ctx, roomID, requestID, actorID, domain.ReviewApprove)
}

// RejectJoinRequest 拒绝申请，不广播
func (s *RoomService) RejectJoinRequest(ctx context.Context, roomID, requestID, actorID uint) (*domain.JoinRequest, error) {
	return s.ReviewJoinRequest(ctx, roomID, requestID, actorID, domain.ReviewReject)
}

// ReviewJoinRequest 由房主审核一个 pending 申请。
func (s *RoomService) ReviewJoinRequest(ctx context.Context, roomID, requestID, actorID uint, decision domain.ReviewDecision) (*domain.JoinRequest, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"request_id": requestID,
		"user_id":    actorID,
		"decision":   decision.String(),
	})

	// 1. 授权
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsCreator(actorID) {
		logCtx.Warn("Non-creator attempted to review join request")
		return nil, ErrNotCreator
	}

	// 2. 状态转移
	req, err := s.store.FindJoinRequest(ctx, roomID, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrJoinRequestNotFound) {
			return nil, ErrJoinRequestNotFound
		}
		logCtx.WithError(err).Error("Failed to load join request")
		return nil, ErrInternalServer
	}
	now := s.now().UTC()
	if !req.Review(decision, now) {
		logCtx.WithField("status", req.Status).Info("Join request is not pending")
		return nil, ErrRequestNotPending
	}

	// 3. 持久化；批准时在同一事务中加入参与者并消费该申请
	err = s.store.Transaction(ctx, func(tx repository.RoomStore) error {
		if decision == domain.ReviewApprove {
			req.ConsumedAt = &now
			if err := tx.UpsertParticipant(ctx, roomID, req.UserID, now); err != nil {
				return err
			}
		}
		return tx.SaveJoinRequest(ctx, req)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to save join request review")
		return nil, ErrInternalServer
	}

	// 4. 只有批准才广播
	if decision == domain.ReviewApprove {
		s.bus.Publish(roomID, domain.Event{
			Type:    domain.EventUserJoined,
			Payload: domain.UserPresencePayload{UserID: req.UserID, Username: s.displayName(ctx, req.UserID)},
		})
	}
	logCtx.Info("Join request reviewed")
	return req, nil
}

// LeaveRoom 让用户离开房间。开启了 auto_destroy_on_empty 的房间在最后一人离开后被删除。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

	// 1. 校验
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, logCtx, roomID, userID); err != nil {
		return err
	}
	if room.IsCreator(userID) {
		count, err := s.store.CountParticipants(ctx, roomID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to count participants")
			return ErrInternalServer
		}
		if count > 1 {
			logCtx.WithField("participants", count).Info("Creator attempted to leave a non-empty room")
			return ErrCreatorCannotLeave
		}
	}

	// 2. 删除参与者；并发离开时第二个请求看到的是 NotParticipant
	removed, err := s.store.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to remove participant")
		return ErrInternalServer
	}
	if !removed {
		return ErrNotRoomParticipant
	}
	s.bus.Publish(roomID, domain.Event{
		Type:    domain.EventUserLeft,
		Payload: domain.UserPresencePayload{UserID: userID, Username: s.displayName(ctx, userID)},
	})
	logCtx.Info("User left room")

	// 3. 空房间自动销毁
	if room.AutoDestroyOnEmpty {
		deleted, err := s.store.DeleteRoomIfEmpty(ctx, roomID)
		if err != nil {
			// 离开本身已经成功，残留的空房间由定时清理任务处理
			logCtx.WithError(err).Error("Failed to auto-destroy empty room")
			return nil
		}
		if deleted {
			s.bus.Publish(roomID, domain.Event{Type: domain.EventRoomDeleted})
			logCtx.Info("Empty room destroyed")
		}
	}
	return nil
}

// ListParticipants 返回房间参与者，按加入时间排序
func (s *RoomService) ListParticipants(ctx context.Context, roomID uint) ([]ParticipantView, error) {
	logCtx := logrus.WithField("room_id", roomID)
	if _, err := s.loadRoom(ctx, logCtx, roomID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list participants")
		return nil, ErrInternalServer
	}
	ids := make([]uint, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load display names")
		return nil, ErrInternalServer
	}
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, ParticipantView{
			UserID:     p.UserID,
			Username:   names[p.UserID],
			JoinedAt:   p.JoinedAt,
			LastSeenAt: p.LastSeenAt,
		})
	}
	return views, nil
}

// ListJoinRequests 返回房间的加入申请（仅房主），status 为 nil 时返回全部。
func (s *RoomService) ListJoinRequests(ctx context.Context, roomID, actorID uint, status *domain.JoinRequestStatus) ([]JoinRequestView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID})
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsCreator(actorID) {
		return nil, ErrNotCreator
	}
	requests, err := s.store.ListJoinRequests(ctx, roomID, status)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list join requests")
		return nil, ErrInternalServer
	}
	ids := make([]uint, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.UserID)
	}
	names, err := s.users.DisplayNames(ctx, ids)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load display names")
		return nil, ErrInternalServer
	}
	views := make([]JoinRequestView, 0, len(requests))
	for _, r := range requests {
		views = append(views, JoinRequestView{JoinRequest: r, Username: names[r.UserID]})
	}
	return views, nil
}

// SweepAbandonedRooms 删除开启自动销毁但已经没有参与者的房间，返回删除数量。
// 由后台任务周期调用，用于兜底并发离开等情况留下的空房间。
func (s *RoomService) SweepAbandonedRooms(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	rooms, err := s.store.FindAbandonedRooms(ctx, batch)
	if err != nil {
		logrus.WithError(err).Error("Failed to find abandoned rooms")
		return 0, err
	}
	deleted := 0
	for _, room := range rooms {
		logCtx := logrus.WithField("room_id", room.ID)
		ok, err := s.store.DeleteRoomIfEmpty(ctx, room.ID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to delete abandoned room")
			continue
		}
		if ok {
			deleted++
			s.bus.Publish(room.ID, domain.Event{Type: domain.EventRoomDeleted})
			logCtx.Info("Abandoned room deleted")
		}
	}
	return deleted, nil
}

// RequireParticipant 检查房间存在且用户是参与者，用于事件流等只读入口
func (s *RoomService) RequireParticipant(ctx context.Context, roomID, userID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})
	if _, err := s.loadRoom(ctx, logCtx, roomID); err != nil {
		return err
	}
	return s.requireParticipant(ctx, logCtx, roomID, userID)
}
