package domain

import "time"

// Song 是歌曲目录中的一首歌。目录本身由其他子系统维护，这里只读取。
type Song struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Number    *int      `json:"number,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Playlist 是用户在房间外维护的歌单，可以导入房间。
type Playlist struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"index;not null" json:"owner_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PlaylistSong 是外部歌单中的一项。
type PlaylistSong struct {
	PlaylistID uint `gorm:"primaryKey"`
	SongID     uint `gorm:"primaryKey"`
	Order      int  `gorm:"column:sort_order;not null;default:0"`
}

// SongSummary 是目录对外提供的歌曲摘要。
type SongSummary struct {
	ID     uint   `json:"song_id"`
	Title  string `json:"title"`
	Number *int   `json:"number,omitempty"`
}
