package gormpersistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/repository"
)

// GormRoomRepository 是 RoomStore 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

var _ repository.RoomStore = (*GormRoomRepository)(nil)

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// Transaction 在事务中执行 fn，传入绑定到事务的仓库副本
func (r *GormRoomRepository) Transaction(ctx context.Context, fn func(store repository.RoomStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRoomRepository{db: tx})
	})
}

// --- Room ---

func (r *GormRoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (code: %s): %w", room.Code, err)
	}
	return nil
}

func (r *GormRoomRepository) UpdateRoom(ctx context.Context, room *domain.Room) error {
	if err := r.db.WithContext(ctx).Save(room).Error; err != nil {
		return fmt.Errorf("gorm: update room %d: %w", room.ID, err)
	}
	return nil
}

func (r *GormRoomRepository) FindRoomByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, id).Error
	if err != nil {
		if err = translate(err, repository.ErrRoomNotFound); err == repository.ErrRoomNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

func (r *GormRoomRepository) FindRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		if err = translate(err, repository.ErrRoomNotFound); err == repository.ErrRoomNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("gorm: find room by code '%s': %w", code, err)
	}
	return &room, nil
}

// IsCodeTaken 只查询数量
func (r *GormRoomRepository) IsCodeTaken(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by code '%s': %w", code, err)
	}
	return count > 0, nil
}

func (r *GormRoomRepository) ListRoomsForUser(ctx context.Context, userID uint) ([]domain.Room, error) {
	var rooms []domain.Room
	memberOf := r.db.WithContext(ctx).Model(&domain.Participant{}).Select("room_id").Where("user_id = ?", userID)
	err := r.db.WithContext(ctx).
		Where("creator_id = ? OR id IN (?)", userID, memberOf).
		Order("last_activity_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms for user %d: %w", userID, err)
	}
	return rooms, nil
}

func (r *GormRoomRepository) ListPublicRooms(ctx context.Context, offset, limit int) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where("access_policy = ?", domain.AccessPublic).
		Order("last_activity_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list public rooms: %w", err)
	}
	return rooms, nil
}

func (r *GormRoomRepository) DeleteRoom(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteRoomCascade(tx, id)
	})
}

func (r *GormRoomRepository) DeleteRoomIfEmpty(ctx context.Context, id uint) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Participant{}).Where("room_id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("gorm: count participants of room %d: %w", id, err)
		}
		if count > 0 {
			return nil
		}
		err := deleteRoomCascade(tx, id)
		if err == repository.ErrRoomNotFound {
			// 已被并发删除
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// deleteRoomCascade 显式按顺序删除子记录，最后删除房间本身。
func deleteRoomCascade(tx *gorm.DB, id uint) error {
	children := []interface{}{
		&domain.Message{},
		&domain.RoomSong{},
		&domain.JoinRequest{},
		&domain.Participant{},
	}
	for _, model := range children {
		if err := tx.Where("room_id = ?", id).Delete(model).Error; err != nil {
			return fmt.Errorf("gorm: delete %T of room %d: %w", model, id, err)
		}
	}
	res := tx.Delete(&domain.Room{}, id)
	if res.Error != nil {
		return fmt.Errorf("gorm: delete room %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

func (r *GormRoomRepository) FindAbandonedRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where("auto_destroy_on_empty = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM participants WHERE participants.room_id = rooms.id)").
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find abandoned rooms: %w", err)
	}
	return rooms, nil
}

// TouchRoom 只更新 last_activity_at，不触发 updated_at
func (r *GormRoomRepository) TouchRoom(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).UpdateColumn("last_activity_at", at).Error
	if err != nil {
		return fmt.Errorf("gorm: touch room %d: %w", id, err)
	}
	return nil
}

// --- Participant ---

func (r *GormRoomRepository) UpsertParticipant(ctx context.Context, roomID, userID uint, at time.Time) error {
	p := domain.Participant{RoomID: roomID, UserID: userID, JoinedAt: at, LastSeenAt: at}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_seen_at": at}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert participant (room %d, user %d): %w", roomID, userID, err)
	}
	return r.TouchRoom(ctx, roomID, at)
}

func (r *GormRoomRepository) RemoveParticipant(ctx context.Context, roomID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&domain.Participant{})
	if res.Error != nil {
		return false, fmt.Errorf("gorm: remove participant (room %d, user %d): %w", roomID, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.TouchRoom(ctx, roomID, time.Now().UTC())
}

func (r *GormRoomRepository) IsParticipant(ctx context.Context, roomID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: check participant (room %d, user %d): %w", roomID, userID, err)
	}
	return count > 0, nil
}

func (r *GormRoomRepository) CountParticipants(ctx context.Context, roomID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Participant{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("gorm: count participants of room %d: %w", roomID, err)
	}
	return count, nil
}

func (r *GormRoomRepository) ListParticipants(ctx context.Context, roomID uint) ([]domain.Participant, error) {
	var participants []domain.Participant
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC, id ASC").Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list participants of room %d: %w", roomID, err)
	}
	return participants, nil
}

// --- Message ---

func (r *GormRoomRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("gorm: create message in room %d: %w", msg.RoomID, err)
	}
	return r.TouchRoom(ctx, msg.RoomID, msg.CreatedAt)
}

func (r *GormRoomRepository) ListMessages(ctx context.Context, roomID uint, limit, offset int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list messages of room %d: %w", roomID, err)
	}
	return messages, nil
}

// --- RoomSong ---

func (r *GormRoomRepository) ListRoomSongs(ctx context.Context, roomID uint) ([]domain.RoomSong, error) {
	var songs []domain.RoomSong
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sort_order ASC, added_at ASC, id ASC").
		Find(&songs).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list songs of room %d: %w", roomID, err)
	}
	return songs, nil
}

func (r *GormRoomRepository) MaxSongOrder(ctx context.Context, roomID uint) (int, bool, error) {
	var max sql.NullInt64
	row := r.db.WithContext(ctx).Model(&domain.RoomSong{}).Select("MAX(sort_order)").Where("room_id = ?", roomID).Row()
	if err := row.Scan(&max); err != nil {
		return 0, false, fmt.Errorf("gorm: max song order of room %d: %w", roomID, err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

func (r *GormRoomRepository) AddRoomSong(ctx context.Context, song *domain.RoomSong) error {
	if err := r.db.WithContext(ctx).Create(song).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: add song %d to room %d: %w", song.SongID, song.RoomID, err)
	}
	return r.TouchRoom(ctx, song.RoomID, song.AddedAt)
}

func (r *GormRoomRepository) RemoveRoomSong(ctx context.Context, roomID, songID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("room_id = ? AND song_id = ?", roomID, songID).Delete(&domain.RoomSong{})
	if res.Error != nil {
		return false, fmt.Errorf("gorm: remove song %d from room %d: %w", songID, roomID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.TouchRoom(ctx, roomID, time.Now().UTC())
}

func (r *GormRoomRepository) UpdateSongOrders(ctx context.Context, roomID uint, orders []domain.SongOrder) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.SongID)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先确认所有歌曲都在房间中，避免 MySQL 在值未变化时 RowsAffected 为 0 的误判
		var found int64
		if err := tx.Model(&domain.RoomSong{}).Where("room_id = ? AND song_id IN ?", roomID, ids).Count(&found).Error; err != nil {
			return fmt.Errorf("gorm: check songs of room %d: %w", roomID, err)
		}
		if found != int64(len(ids)) {
			return repository.ErrSongNotFound
		}
		for _, o := range orders {
			err := tx.Model(&domain.RoomSong{}).
				Where("room_id = ? AND song_id = ?", roomID, o.SongID).
				Update("sort_order", o.Order).Error
			if err != nil {
				return fmt.Errorf("gorm: reorder song %d in room %d: %w", o.SongID, roomID, err)
			}
		}
		return tx.Model(&domain.Room{}).Where("id = ?", roomID).UpdateColumn("last_activity_at", time.Now().UTC()).Error
	})
}

// --- JoinRequest ---

func (r *GormRoomRepository) CreateJoinRequest(ctx context.Context, req *domain.JoinRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create join request (room %d, user %d): %w", req.RoomID, req.UserID, err)
	}
	return nil
}

func (r *GormRoomRepository) FindJoinRequest(ctx context.Context, roomID, requestID uint) (*domain.JoinRequest, error) {
	var req domain.JoinRequest
	err := r.db.WithContext(ctx).Where("id = ? AND room_id = ?", requestID, roomID).First(&req).Error
	if err != nil {
		if err = translate(err, repository.ErrJoinRequestNotFound); err == repository.ErrJoinRequestNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("gorm: find join request %d: %w", requestID, err)
	}
	return &req, nil
}

func (r *GormRoomRepository) FindPendingJoinRequest(ctx context.Context, roomID, userID uint) (*domain.JoinRequest, error) {
	return r.findJoinRequestWhere(ctx, "room_id = ? AND user_id = ? AND status = ?", roomID, userID, domain.JoinRequestPending)
}

func (r *GormRoomRepository) FindUsableJoinRequest(ctx context.Context, roomID, userID uint) (*domain.JoinRequest, error) {
	return r.findJoinRequestWhere(ctx, "room_id = ? AND user_id = ? AND status = ? AND consumed_at IS NULL",
		roomID, userID, domain.JoinRequestApproved)
}

func (r *GormRoomRepository) findJoinRequestWhere(ctx context.Context, query string, args ...interface{}) (*domain.JoinRequest, error) {
	var req domain.JoinRequest
	err := r.db.WithContext(ctx).Where(query, args...).Order("requested_at DESC, id DESC").First(&req).Error
	if err != nil {
		if err = translate(err, repository.ErrJoinRequestNotFound); err == repository.ErrJoinRequestNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("gorm: find join request: %w", err)
	}
	return &req, nil
}

func (r *GormRoomRepository) SaveJoinRequest(ctx context.Context, req *domain.JoinRequest) error {
	if err := r.db.WithContext(ctx).Save(req).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save join request %d: %w", req.ID, err)
	}
	return nil
}

func (r *GormRoomRepository) ListJoinRequests(ctx context.Context, roomID uint, status *domain.JoinRequestStatus) ([]domain.JoinRequest, error) {
	var requests []domain.JoinRequest
	q := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if err := q.Order("requested_at DESC, id DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("gorm: list join requests of room %d: %w", roomID, err)
	}
	return requests, nil
}
