package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/repository"
)

// GormSongCatalog 从 songs / playlists 表读取歌曲目录，只读。
type GormSongCatalog struct {
	db *gorm.DB
}

var _ repository.SongCatalog = (*GormSongCatalog)(nil)

func NewGormSongCatalog(db *gorm.DB) *GormSongCatalog {
	if db == nil {
		panic("database connection cannot be nil for GormSongCatalog")
	}
	return &GormSongCatalog{db: db}
}

func (c *GormSongCatalog) GetSong(ctx context.Context, id uint) (*domain.SongSummary, error) {
	var song domain.Song
	err := c.db.WithContext(ctx).First(&song, id).Error
	if err != nil {
		if err = translate(err, repository.ErrSongNotFound); err == repository.ErrSongNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("gorm: find song %d: %w", id, err)
	}
	return &domain.SongSummary{ID: song.ID, Title: song.Title, Number: song.Number}, nil
}

func (c *GormSongCatalog) GetSongs(ctx context.Context, ids []uint) (map[uint]domain.SongSummary, error) {
	out := make(map[uint]domain.SongSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var songs []domain.Song
	if err := c.db.WithContext(ctx).Where("id IN ?", ids).Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("gorm: load songs: %w", err)
	}
	for _, s := range songs {
		out[s.ID] = domain.SongSummary{ID: s.ID, Title: s.Title, Number: s.Number}
	}
	return out, nil
}

// PlaylistSongIDs 按歌单内顺序返回歌曲 ID，歌单必须属于 ownerID
func (c *GormSongCatalog) PlaylistSongIDs(ctx context.Context, playlistID, ownerID uint) ([]uint, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&domain.Playlist{}).
		Where("id = ? AND owner_id = ?", playlistID, ownerID).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find playlist %d: %w", playlistID, err)
	}
	if count == 0 {
		return nil, repository.ErrPlaylistNotFound
	}

	var ids []uint
	err = c.db.WithContext(ctx).Model(&domain.PlaylistSong{}).
		Where("playlist_id = ?", playlistID).
		Order("sort_order ASC, song_id ASC").
		Pluck("song_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list songs of playlist %d: %w", playlistID, err)
	}
	return ids, nil
}
