package repository

import (
	"context"
	"time"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// RoomStore 定义房间及其子实体（参与者、消息、歌单、加入申请）的持久化操作。
// 只做 CRUD 和查询，不包含业务规则。
type RoomStore interface {
	// Transaction 在一个数据库事务中执行 fn，fn 收到的 RoomStore 绑定到该事务。
	// fn 返回错误时事务回滚。
	Transaction(ctx context.Context, fn func(store RoomStore) error) error

	// === Room ===

	CreateRoom(ctx context.Context, room *domain.Room) error
	UpdateRoom(ctx context.Context, room *domain.Room) error
	// FindRoomByID / FindRoomByCode 在房间不存在时返回 ErrRoomNotFound。
	FindRoomByID(ctx context.Context, id uint) (*domain.Room, error)
	FindRoomByCode(ctx context.Context, code string) (*domain.Room, error)
	IsCodeTaken(ctx context.Context, code string) (bool, error)
	// ListRoomsForUser 返回用户创建或参与的房间，按最后活跃时间倒序。
	ListRoomsForUser(ctx context.Context, userID uint) ([]domain.Room, error)
	ListPublicRooms(ctx context.Context, offset, limit int) ([]domain.Room, error)
	// DeleteRoom 按顺序删除消息、歌单、加入申请、参与者，最后删除房间。
	DeleteRoom(ctx context.Context, id uint) error
	// DeleteRoomIfEmpty 仅当房间没有参与者时删除，返回是否删除。
	DeleteRoomIfEmpty(ctx context.Context, id uint) (bool, error)
	// FindAbandonedRooms 查找开启了 auto_destroy_on_empty 但已没有参与者的房间。
	FindAbandonedRooms(ctx context.Context, limit int) ([]domain.Room, error)
	TouchRoom(ctx context.Context, id uint, at time.Time) error

	// === Participant ===

	// UpsertParticipant 插入参与者；已存在时只刷新 last_seen_at。
	UpsertParticipant(ctx context.Context, roomID, userID uint, at time.Time) error
	// RemoveParticipant 返回是否真的删除了一行，并发离开时第二次返回 false 而不是错误。
	RemoveParticipant(ctx context.Context, roomID, userID uint) (bool, error)
	IsParticipant(ctx context.Context, roomID, userID uint) (bool, error)
	CountParticipants(ctx context.Context, roomID uint) (int64, error)
	ListParticipants(ctx context.Context, roomID uint) ([]domain.Participant, error)

	// === Message ===

	CreateMessage(ctx context.Context, msg *domain.Message) error
	// ListMessages 返回最新的消息在前（created_at DESC, id DESC）。
	ListMessages(ctx context.Context, roomID uint, limit, offset int) ([]domain.Message, error)

	// === RoomSong ===

	// ListRoomSongs 按 (order, added_at, id) 升序返回。
	ListRoomSongs(ctx context.Context, roomID uint) ([]domain.RoomSong, error)
	// MaxSongOrder 返回当前最大的 order；歌单为空时 ok 为 false。
	MaxSongOrder(ctx context.Context, roomID uint) (max int, ok bool, err error)
	// AddRoomSong 在歌曲已存在于房间时返回 ErrDuplicateEntry。
	AddRoomSong(ctx context.Context, song *domain.RoomSong) error
	RemoveRoomSong(ctx context.Context, roomID, songID uint) (bool, error)
	// UpdateSongOrders 原子地应用排序；任一 song_id 不在房间中时返回 ErrSongNotFound 且不修改任何行。
	UpdateSongOrders(ctx context.Context, roomID uint, orders []domain.SongOrder) error

	// === JoinRequest ===

	// CreateJoinRequest 在已有 pending 申请时返回 ErrDuplicateEntry。
	CreateJoinRequest(ctx context.Context, req *domain.JoinRequest) error
	// FindJoinRequest 返回属于该房间的申请，否则 ErrJoinRequestNotFound。
	FindJoinRequest(ctx context.Context, roomID, requestID uint) (*domain.JoinRequest, error)
	FindPendingJoinRequest(ctx context.Context, roomID, userID uint) (*domain.JoinRequest, error)
	// FindUsableJoinRequest 返回已批准且未被使用的申请。
	FindUsableJoinRequest(ctx context.Context, roomID, userID uint) (*domain.JoinRequest, error)
	SaveJoinRequest(ctx context.Context, req *domain.JoinRequest) error
	// ListJoinRequests 按申请时间倒序，status 为 nil 时不过滤。
	ListJoinRequests(ctx context.Context, roomID uint, status *domain.JoinRequestStatus) ([]domain.JoinRequest, error)
}
