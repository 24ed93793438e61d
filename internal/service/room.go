package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/hub"
	"github.com/jairofilho79/coldigom/internal/repository"
)

const (
	roomCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength      = 8
	maxCodeAttempts     = 10
	maxRoomNameLength   = 255
	maxDescriptionLen   = 1000
	minRoomPasswordLen  = 4
	maxRoomPasswordLen  = 50
	defaultPublicLimit  = 50
	maxPublicRoomsLimit = 100
)

// RoomService 是房间状态的唯一写入者：校验、授权、持久化，然后广播。
type RoomService struct {
	store   repository.RoomStore
	users   repository.UserRepository
	catalog repository.SongCatalog
	hasher  CredentialHasher
	bus     hub.Publisher

	now     func() time.Time
	newCode func() (string, error)
}

// RoomServiceOption 用于测试时替换时钟或房间码生成器
type RoomServiceOption func(*RoomService)

func WithClock(now func() time.Time) RoomServiceOption {
	return func(s *RoomService) { s.now = now }
}

func WithCodeGenerator(gen func() (string, error)) RoomServiceOption {
	return func(s *RoomService) { s.newCode = gen }
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	store repository.RoomStore,
	users repository.UserRepository,
	catalog repository.SongCatalog,
	hasher CredentialHasher,
	bus hub.Publisher,
	opts ...RoomServiceOption,
) *RoomService {
	if store == nil || users == nil || catalog == nil || hasher == nil || bus == nil {
		panic("RoomService dependencies cannot be nil")
	}
	s := &RoomService{
		store:   store,
		users:   users,
		catalog: catalog,
		hasher:  hasher,
		bus:     bus,
		now:     time.Now,
		newCode: randomRoomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoomInput 是创建房间的参数
type CreateRoomInput struct {
	Name                string
	Description         string
	AccessPolicy        domain.AccessPolicy
	Password            *string
	AcceptsJoinRequests bool
	AutoDestroyOnEmpty  *bool // nil 表示默认 true
}

// UpdateRoomInput 中为 nil 的字段保持不变
type UpdateRoomInput struct {
	Name                *string
	Description         *string
	AccessPolicy        *domain.AccessPolicy
	Password            *string
	AcceptsJoinRequests *bool
	AutoDestroyOnEmpty  *bool
}

// ParticipantView 是带显示名的参与者
type ParticipantView struct {
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// RoomSongView 是房间歌单中的一项，附带目录中的标题和编号
type RoomSongView struct {
	SongID  uint      `json:"song_id"`
	Title   string    `json:"title"`
	Number  *int      `json:"number,omitempty"`
	Order   int       `json:"order"`
	AddedAt time.Time `json:"added_at"`
}

// RoomDetail 是房间详情：房间字段、参与者和按顺序排列的歌曲
type RoomDetail struct {
	domain.Room
	CreatorName       string            `json:"creator_name"`
	ParticipantsCount int               `json:"participants_count"`
	SongsCount        int               `json:"songs_count"`
	IsCreator         bool              `json:"is_creator"`
	IsParticipant     bool              `json:"is_participant"`
	Participants      []ParticipantView `json:"participants"`
	Songs             []RoomSongView    `json:"songs"`
}

// CreateRoom 创建房间，房主自动成为参与者。没有订阅者，所以不广播。
func (s *RoomService) CreateRoom(ctx context.Context, ownerID uint, in CreateRoomInput) (*domain.Room, error) {
	logCtx := logrus.WithField("creator_id", ownerID)

	// 1. 校验输入
	name, err := validateRoomName(in.Name)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return nil, validationf("invalid_description", "description must be at most %d characters", maxDescriptionLen)
	}
	policy := in.AccessPolicy
	if policy == "" {
		policy = domain.AccessPublic
	}
	if _, err := domain.ParseAccessPolicy(string(policy)); err != nil {
		return nil, validationf("invalid_access_policy", "%v", err)
	}

	// 2. 密码仅在 password 策略下出现
	var passwordHash *string
	switch {
	case policy == domain.AccessPassword:
		if in.Password == nil || *in.Password == "" {
			return nil, validationf("password_required", "password is required for password-protected rooms")
		}
		hash, err := s.hashRoomPassword(*in.Password)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				return nil, err
			}
			logCtx.WithError(err).Error("Failed to hash room password")
			return nil, ErrInternalServer
		}
		passwordHash = &hash
	case in.Password != nil && *in.Password != "":
		return nil, validationf("password_not_allowed", "password can only be set for password-protected rooms")
	}
	if in.AcceptsJoinRequests && policy != domain.AccessApproval {
		return nil, validationf("invalid_accepts_join_requests", "accepts_join_requests can only be set for approval rooms")
	}

	autoDestroy := true
	if in.AutoDestroyOnEmpty != nil {
		autoDestroy = *in.AutoDestroyOnEmpty
	}

	// 3. 生成房间码并保存；唯一约束冲突时换一个码重试
	now := s.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateUniqueCode(ctx)
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate unique room code")
			return nil, ErrInternalServer
		}
		room := &domain.Room{
			Code:                code,
			Name:                name,
			Description:         in.Description,
			CreatorID:           ownerID,
			AccessPolicy:        policy,
			PasswordHash:        passwordHash,
			AcceptsJoinRequests: in.AcceptsJoinRequests,
			AutoDestroyOnEmpty:  autoDestroy,
			LastActivityAt:      now,
		}
		err = s.store.Transaction(ctx, func(tx repository.RoomStore) error {
			if err := tx.CreateRoom(ctx, room); err != nil {
				return err
			}
			return tx.UpsertParticipant(ctx, room.ID, ownerID, now)
		})
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithField("code", code).Warnf("Room code collided on insert, retrying (attempt %d)", attempt+1)
			continue
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to save new room")
			return nil, ErrInternalServer
		}
		logCtx.WithFields(logrus.Fields{"room_id": room.ID, "code": room.Code}).Info("Room created successfully")
		return room, nil
	}
	logCtx.Errorf("Failed to create room after %d code collisions", maxCodeAttempts)
	return nil, ErrInternalServer
}

// GetRoom 返回房间详情
func (s *RoomService) GetRoom(ctx context.Context, roomID, viewerID uint) (*RoomDetail, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": viewerID})
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, logCtx, room, viewerID)
}

// GetRoomByCode 通过房间码返回房间详情
func (s *RoomService) GetRoomByCode(ctx context.Context, code string, viewerID uint) (*RoomDetail, error) {
	logCtx := logrus.WithFields(logrus.Fields{"code": code, "user_id": viewerID})
	room, err := s.loadRoomByCode(ctx, logCtx, code)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, logCtx, room, viewerID)
}

// ListRoomsForUser 返回用户创建或参与的房间，最近活跃的在前
func (s *RoomService) ListRoomsForUser(ctx context.Context, userID uint) ([]domain.Room, error) {
	rooms, err := s.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list rooms for user")
		return nil, ErrInternalServer
	}
	return rooms, nil
}

// ListPublicRooms 分页返回公开房间。limit 为 0 时使用默认值。
func (s *RoomService) ListPublicRooms(ctx context.Context, skip, limit int) ([]domain.Room, error) {
	if limit == 0 {
		limit = defaultPublicLimit
	}
	if skip < 0 || limit < 1 || limit > maxPublicRoomsLimit {
		return nil, validationf("invalid_pagination", "skip must be >= 0 and limit between 1 and %d", maxPublicRoomsLimit)
	}
	rooms, err := s.store.ListPublicRooms(ctx, skip, limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to list public rooms")
		return nil, ErrInternalServer
	}
	return rooms, nil
}

// UpdateRoom 由房主修改房间设置，成功后广播 room_updated。
func (s *RoomService) UpdateRoom(ctx context.Context, roomID, actorID uint, in UpdateRoomInput) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID})

	// 1. 授权
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsCreator(actorID) {
		logCtx.Warn("Non-creator attempted to update room")
		return nil, ErrNotCreator
	}

	// 2. 应用修改，任何校验失败都不会落库
	if in.Name != nil {
		name, err := validateRoomName(*in.Name)
		if err != nil {
			return nil, err
		}
		room.Name = name
	}
	if in.Description != nil {
		if utf8.RuneCountInString(*in.Description) > maxDescriptionLen {
			return nil, validationf("invalid_description", "description must be at most %d characters", maxDescriptionLen)
		}
		room.Description = *in.Description
	}
	if in.AccessPolicy != nil {
		policy, err := domain.ParseAccessPolicy(string(*in.AccessPolicy))
		if err != nil {
			return nil, validationf("invalid_access_policy", "%v", err)
		}
		room.AccessPolicy = policy
		if policy != domain.AccessPassword {
			room.PasswordHash = nil
		}
		if policy != domain.AccessApproval {
			room.AcceptsJoinRequests = false
		}
	}
	if in.Password != nil {
		if room.AccessPolicy != domain.AccessPassword {
			return nil, validationf("password_not_allowed", "password can only be set for password-protected rooms")
		}
		hash, err := s.hashRoomPassword(*in.Password)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				return nil, err
			}
			logCtx.WithError(err).Error("Failed to hash room password")
			return nil, ErrInternalServer
		}
		room.PasswordHash = &hash
	}
	if room.AccessPolicy == domain.AccessPassword && room.PasswordHash == nil {
		return nil, validationf("password_required", "password is required for password-protected rooms")
	}
	if in.AcceptsJoinRequests != nil {
		if room.AccessPolicy != domain.AccessApproval {
			return nil, validationf("invalid_accepts_join_requests", "accepts_join_requests can only be set for approval rooms")
		}
		room.AcceptsJoinRequests = *in.AcceptsJoinRequests
	}
	if in.AutoDestroyOnEmpty != nil {
		room.AutoDestroyOnEmpty = *in.AutoDestroyOnEmpty
	}
	room.LastActivityAt = s.now().UTC()

	// 3. 保存并广播
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to update room")
		return nil, ErrInternalServer
	}
	s.bus.Publish(room.ID, domain.Event{
		Type: domain.EventRoomUpdated,
		Payload: domain.RoomUpdatedPayload{
			Name:         room.Name,
			Description:  room.Description,
			AccessPolicy: room.AccessPolicy,
		},
	})
	logCtx.Info("Room updated successfully")
	return room, nil
}

// DeleteRoom 由房主删除房间及其所有子记录，提交后广播 room_deleted。
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, actorID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID})
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return err
	}
	if !room.IsCreator(actorID) {
		logCtx.Warn("Non-creator attempted to delete room")
		return ErrNotCreator
	}
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to delete room")
		return ErrInternalServer
	}
	s.bus.Publish(roomID, domain.Event{Type: domain.EventRoomDeleted})
	logCtx.Info("Room deleted")
	return nil
}

// --- 私有辅助函数 ---

func (s *RoomService) loadRoom(ctx context.Context, logCtx *logrus.Entry, roomID uint) (*domain.Room, error) {
	room, err := s.store.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("Room not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room")
		return nil, ErrInternalServer
	}
	return room, nil
}

func (s *RoomService) loadRoomByCode(ctx context.Context, logCtx *logrus.Entry, code string) (*domain.Room, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrRoomNotFound
	}
	room, err := s.store.FindRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("Room not found by code")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room by code")
		return nil, ErrInternalServer
	}
	return room, nil
}

// requireParticipant 在用户不是参与者时返回 ErrNotRoomParticipant
func (s *RoomService) requireParticipant(ctx context.Context, logCtx *logrus.Entry, roomID, userID uint) error {
	ok, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to check participant")
		return ErrInternalServer
	}
	if !ok {
		return ErrNotRoomParticipant
	}
	return nil
}

func (s *RoomService) buildDetail(ctx context.Context, logCtx *logrus.Entry, room *domain.Room, viewerID uint) (*RoomDetail, error) {
	participants, err := s.store.ListParticipants(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list participants")
		return nil, ErrInternalServer
	}
	songs, err := s.store.ListRoomSongs(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list room songs")
		return nil, ErrInternalServer
	}

	userIDs := make([]uint, 0, len(participants)+1)
	userIDs = append(userIDs, room.CreatorID)
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}
	names, err := s.users.DisplayNames(ctx, userIDs)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load display names")
		return nil, ErrInternalServer
	}
	songViews, err := s.songViews(ctx, songs)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load songs from catalog")
		return nil, ErrInternalServer
	}

	detail := &RoomDetail{
		Room:              *room,
		CreatorName:       names[room.CreatorID],
		ParticipantsCount: len(participants),
		SongsCount:        len(songs),
		IsCreator:         room.IsCreator(viewerID),
		Participants:      make([]ParticipantView, 0, len(participants)),
		Songs:             songViews,
	}
	for _, p := range participants {
		if p.UserID == viewerID {
			detail.IsParticipant = true
		}
		detail.Participants = append(detail.Participants, ParticipantView{
			UserID:     p.UserID,
			Username:   names[p.UserID],
			JoinedAt:   p.JoinedAt,
			LastSeenAt: p.LastSeenAt,
		})
	}
	return detail, nil
}

func (s *RoomService) songViews(ctx context.Context, songs []domain.RoomSong) ([]RoomSongView, error) {
	views := make([]RoomSongView, 0, len(songs))
	if len(songs) == 0 {
		return views, nil
	}
	ids := make([]uint, 0, len(songs))
	for _, rs := range songs {
		ids = append(ids, rs.SongID)
	}
	summaries, err := s.catalog.GetSongs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, rs := range songs {
		summary := summaries[rs.SongID]
		views = append(views, RoomSongView{
			SongID:  rs.SongID,
			Title:   summary.Title,
			Number:  summary.Number,
			Order:   rs.Order,
			AddedAt: rs.AddedAt,
		})
	}
	return views, nil
}

func (s *RoomService) displayName(ctx context.Context, userID uint) string {
	names, err := s.users.DisplayNames(ctx, []uint{userID})
	if err != nil {
		// 显示名只用于事件负载，失败时降级为空
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to load display name")
		return ""
	}
	return names[userID]
}

func (s *RoomService) hashRoomPassword(password string) (string, error) {
	n := utf8.RuneCountInString(password)
	if n < minRoomPasswordLen || n > maxRoomPasswordLen {
		return "", validationf("invalid_password_length", "room password must be between %d and %d characters", minRoomPasswordLen, maxRoomPasswordLen)
	}
	return s.hasher.Hash(password)
}

func validateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationf("invalid_name", "room name is required")
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return "", validationf("invalid_name", "room name must be at most %d characters", maxRoomNameLength)
	}
	return name, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateUniqueCode 生成一个当前未被使用的房间码
func (s *RoomService) generateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		taken, err := s.store.IsCodeTaken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking room code: %w", err)
		}
		if !taken {
			logrus.WithField("code", code).Debugf("Generated unique room code after %d attempt(s).", attempt+1)
			return code, nil
		}
		logrus.WithField("code", code).Warnf("Generated room code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room code after %d attempts", maxCodeAttempts)
}

// randomRoomCode 使用 crypto/rand 生成 8 位大写字母数字码
func randomRoomCode() (string, error) {
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b), nil
}
