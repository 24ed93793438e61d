package repository

import (
	"context"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// SongCatalog 是歌曲目录的只读视图，歌曲和歌单由其他子系统维护。
type SongCatalog interface {
	// GetSong 不存在时返回 ErrSongNotFound。
	GetSong(ctx context.Context, id uint) (*domain.SongSummary, error)
	// GetSongs 批量查询，缺失的 ID 不出现在结果中。
	GetSongs(ctx context.Context, ids []uint) (map[uint]domain.SongSummary, error)
	// PlaylistSongIDs 按歌单内顺序返回歌曲 ID。歌单不存在或不属于 ownerID 时返回 ErrPlaylistNotFound。
	PlaylistSongIDs(ctx context.Context, playlistID, ownerID uint) ([]uint, error)
}
