package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/repository"
)

// ImportResult 是导入歌单的结果
type ImportResult struct {
	PlaylistID uint           `json:"playlist_id"`
	Imported   int            `json:"imported"`
	Songs      []RoomSongView `json:"songs"`
}

// ListSongs 返回房间歌单，按 (order, added_at, id) 排序
func (s *RoomService) ListSongs(ctx context.Context, roomID uint) ([]RoomSongView, error) {
	logCtx := logrus.WithField("room_id", roomID)
	if _, err := s.loadRoom(ctx, logCtx, roomID); err != nil {
		return nil, err
	}
	return s.currentSongs(ctx, logCtx, roomID)
}

// AddSong 把目录中的歌曲追加到房间歌单末尾（仅房主）。
func (s *RoomService) AddSong(ctx context.Context, roomID, actorID, songID uint) (*RoomSongView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "song_id": songID})

	// 1. 授权与校验
	if _, err := s.requireCreator(ctx, logCtx, roomID, actorID); err != nil {
		return nil, err
	}
	song, err := s.catalog.GetSong(ctx, songID)
	if err != nil {
		if errors.Is(err, repository.ErrSongNotFound) {
			return nil, ErrSongNotFound
		}
		logCtx.WithError(err).Error("Failed to look up song in catalog")
		return nil, ErrInternalServer
	}

	// 2. 计算顺序并保存
	max, ok, err := s.store.MaxSongOrder(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read max song order")
		return nil, ErrInternalServer
	}
	order := 0
	if ok {
		order = max + 1
	}
	rs := &domain.RoomSong{RoomID: roomID, SongID: songID, Order: order, AddedAt: s.now().UTC()}
	if err := s.store.AddRoomSong(ctx, rs); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrSongAlreadyInRoom
		}
		logCtx.WithError(err).Error("Failed to add song to room")
		return nil, ErrInternalServer
	}

	// 3. 广播
	s.bus.Publish(roomID, domain.Event{
		Type: domain.EventSongAdded,
		Payload: domain.SongAddedPayload{
			SongID: songID,
			Title:  song.Title,
			Number: song.Number,
			Order:  order,
		},
	})
	logCtx.WithField("order", order).Info("Song added to room")
	return &RoomSongView{SongID: songID, Title: song.Title, Number: song.Number, Order: order, AddedAt: rs.AddedAt}, nil
}

// RemoveSong 从房间歌单中移除歌曲（仅房主）
func (s *RoomService) RemoveSong(ctx context.Context, roomID, actorID, songID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "song_id": songID})
	if _, err := s.requireCreator(ctx, logCtx, roomID, actorID); err != nil {
		return err
	}
	removed, err := s.store.RemoveRoomSong(ctx, roomID, songID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to remove song from room")
		return ErrInternalServer
	}
	if !removed {
		return ErrSongNotInRoom
	}
	s.bus.Publish(roomID, domain.Event{
		Type:    domain.EventSongRemoved,
		Payload: domain.SongRemovedPayload{SongID: songID},
	})
	logCtx.Info("Song removed from room")
	return nil
}

// ReorderSongs 原子地应用一组 (song_id, order)，未列出的歌曲保持原有顺序值。
func (s *RoomService) ReorderSongs(ctx context.Context, roomID, actorID uint, orders []domain.SongOrder) ([]RoomSongView, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID})

	// 1. 授权与校验
	if _, err := s.requireCreator(ctx, logCtx, roomID, actorID); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, validationf("invalid_song_orders", "song_orders cannot be empty")
	}
	seen := make(map[uint]struct{}, len(orders))
	for _, o := range orders {
		if o.Order < 0 {
			return nil, validationf("invalid_song_orders", "order must be >= 0 (song %d)", o.SongID)
		}
		if _, dup := seen[o.SongID]; dup {
			return nil, validationf("invalid_song_orders", "song %d listed more than once", o.SongID)
		}
		seen[o.SongID] = struct{}{}
	}

	// 2. 全部成功或全部不变
	if err := s.store.UpdateSongOrders(ctx, roomID, orders); err != nil {
		if errors.Is(err, repository.ErrSongNotFound) {
			return nil, ErrSongNotInRoom
		}
		logCtx.WithError(err).Error("Failed to reorder songs")
		return nil, ErrInternalServer
	}

	// 3. 广播只携带变化的部分
	s.bus.Publish(roomID, domain.Event{
		Type:    domain.EventSongsReordered,
		Payload: domain.SongsReorderedPayload{Orders: orders},
	})
	logCtx.WithField("count", len(orders)).Info("Songs reordered")
	return s.currentSongs(ctx, logCtx, roomID)
}

// ImportPlaylist 把房主自己的歌单追加到房间歌单末尾，保持相对顺序，
// 已在房间中的歌曲被跳过。
func (s *RoomService) ImportPlaylist(ctx context.Context, roomID, actorID, playlistID uint) (*ImportResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "playlist_id": playlistID})

	// 1. 授权
	if _, err := s.requireCreator(ctx, logCtx, roomID, actorID); err != nil {
		return nil, err
	}
	songIDs, err := s.catalog.PlaylistSongIDs(ctx, playlistID, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrPlaylistNotFound) {
			return nil, ErrPlaylistNotFound
		}
		logCtx.WithError(err).Error("Failed to load playlist songs")
		return nil, ErrInternalServer
	}

	// 2. 在一个事务中追加
	imported := 0
	now := s.now().UTC()
	err = s.store.Transaction(ctx, func(tx repository.RoomStore) error {
		existing, err := tx.ListRoomSongs(ctx, roomID)
		if err != nil {
			return err
		}
		present := make(map[uint]struct{}, len(existing))
		next := 0
		for _, rs := range existing {
			present[rs.SongID] = struct{}{}
			if rs.Order >= next {
				next = rs.Order + 1
			}
		}
		for _, id := range songIDs {
			if _, ok := present[id]; ok {
				continue
			}
			if err := tx.AddRoomSong(ctx, &domain.RoomSong{RoomID: roomID, SongID: id, Order: next, AddedAt: now}); err != nil {
				return err
			}
			present[id] = struct{}{}
			next++
			imported++
		}
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to import playlist")
		return nil, ErrInternalServer
	}

	// 3. 广播；接收方自行重新拉取歌单
	s.bus.Publish(roomID, domain.Event{
		Type:    domain.EventPlaylistImported,
		Payload: domain.PlaylistImportedPayload{PlaylistID: playlistID, Imported: imported},
	})
	logCtx.WithField("imported", imported).Info("Playlist imported")

	songs, err := s.currentSongs(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	return &ImportResult{PlaylistID: playlistID, Imported: imported, Songs: songs}, nil
}

// requireCreator 加载房间并要求 actor 为房主
func (s *RoomService) requireCreator(ctx context.Context, logCtx *logrus.Entry, roomID, actorID uint) (*domain.Room, error) {
	room, err := s.loadRoom(ctx, logCtx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsCreator(actorID) {
		logCtx.Warn("Non-creator attempted a creator-only operation")
		return nil, ErrNotCreator
	}
	return room, nil
}

func (s *RoomService) currentSongs(ctx context.Context, logCtx *logrus.Entry, roomID uint) ([]RoomSongView, error) {
	songs, err := s.store.ListRoomSongs(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list room songs")
		return nil, ErrInternalServer
	}
	views, err := s.songViews(ctx, songs)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load songs from catalog")
		return nil, ErrInternalServer
	}
	return views, nil
}
