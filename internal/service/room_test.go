package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jairofilho79/coldigom/internal/domain"
	"github.com/jairofilho79/coldigom/internal/hub"
	gormpersistence "github.com/jairofilho79/coldigom/internal/infra/persistence/gorm"
	"github.com/jairofilho79/coldigom/internal/infra/setup"
	"github.com/jairofilho79/coldigom/internal/repository/mocks"
	"github.com/jairofilho79/coldigom/internal/service"
)

// stepClock 每次调用前进一秒，保证时间戳严格递增
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type roomFixture struct {
	db    *gorm.DB
	svc   *service.RoomService
	hub   *hub.Hub
	store *gormpersistence.GormRoomRepository
	users map[string]uint
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(setup.Models()...))
	return db
}

func newRoomFixture(t *testing.T, opts ...service.RoomServiceOption) *roomFixture {
	t.Helper()
	db := openTestDB(t)
	f := &roomFixture{
		db:    db,
		hub:   hub.NewHub(32, nil),
		store: gormpersistence.NewGormRoomRepository(db),
		users: map[string]uint{},
	}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		u := &domain.User{Username: name, Password: "x"}
		require.NoError(t, db.Create(u).Error)
		f.users[name] = u.ID
	}
	for i := 1; i <= 4; i++ {
		n := i * 10
		require.NoError(t, db.Create(&domain.Song{ID: uint(i), Title: fmt.Sprintf("Song %d", i), Number: &n}).Error)
	}

	clock := &stepClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]service.RoomServiceOption{service.WithClock(clock.Now)}, opts...)
	f.svc = service.NewRoomService(
		f.store,
		gormpersistence.NewGormUserRepository(db),
		gormpersistence.NewGormSongCatalog(db),
		service.NewBcryptHasher(bcrypt.MinCost),
		f.hub,
		opts...,
	)
	return f
}

func (f *roomFixture) createRoom(t *testing.T, owner string, in service.CreateRoomInput) *domain.Room {
	t.Helper()
	if in.Name == "" {
		in.Name = "Sunday rehearsal"
	}
	room, err := f.svc.CreateRoom(context.Background(), f.users[owner], in)
	require.NoError(t, err)
	return room
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// nextEvent 在超时前读取一条事件
func nextEvent(t *testing.T, sub *hub.Subscription) domain.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *hub.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

// --- Create ---

func TestRoomService_CreateRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.createRoom(t, "alice", service.CreateRoomInput{Name: "  Choir  ", AccessPolicy: domain.AccessPublic})
	assert.Equal(t, "Choir", room.Name)
	assert.Len(t, room.Code, 8)
	assert.Equal(t, strings.ToUpper(room.Code), room.Code)
	assert.Nil(t, room.PasswordHash)
	assert.True(t, room.AutoDestroyOnEmpty, "默认开启自动销毁")

	ok, err := f.store.IsParticipant(ctx, room.ID, f.users["alice"])
	require.NoError(t, err)
	assert.True(t, ok, "房主创建后即为参与者")

	kept := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessPublic, AutoDestroyOnEmpty: boolPtr(false)})
	reloaded, err := f.store.FindRoomByID(ctx, kept.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.AutoDestroyOnEmpty)
}

func TestRoomService_CreateRoom_Validation(t *testing.T) {
	f := newRoomFixture(t)
	alice := f.users["alice"]

	testCases := []struct {
		name string
		in   service.CreateRoomInput
		code string
	}{
		{"Empty name", service.CreateRoomInput{Name: "   "}, "invalid_name"},
		{"Name too long", service.CreateRoomInput{Name: strings.Repeat("n", 256)}, "invalid_name"},
		{"Unknown policy", service.CreateRoomInput{Name: "r", AccessPolicy: "vip"}, "invalid_access_policy"},
		{"Password missing", service.CreateRoomInput{Name: "r", AccessPolicy: domain.AccessPassword}, "password_required"},
		{"Password too short", service.CreateRoomInput{Name: "r", AccessPolicy: domain.AccessPassword, Password: strPtr("abc")}, "invalid_password_length"},
		{"Password on public room", service.CreateRoomInput{Name: "r", AccessPolicy: domain.AccessPublic, Password: strPtr("abcd")}, "password_not_allowed"},
		{"Requests on public room", service.CreateRoomInput{Name: "r", AccessPolicy: domain.AccessPublic, AcceptsJoinRequests: true}, "invalid_accepts_join_requests"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			room, err := f.svc.CreateRoom(context.Background(), alice, tc.in)
			assert.Nil(t, room)
			assert.ErrorIs(t, err, service.ErrValidation)
			assert.Equal(t, tc.code, service.CodeOf(err))
		})
	}
}

func TestRoomService_CreateRoom_PasswordIsHashed(t *testing.T) {
	f := newRoomFixture(t)
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessPassword, Password: strPtr("abcd")})
	require.NotNil(t, room.PasswordHash)
	assert.NotEqual(t, "abcd", *room.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*room.PasswordHash), []byte("abcd")))
}

func TestRoomService_CreateRoom_RetriesOnCodeCollision(t *testing.T) {
	codes := []string{"TAKEN001", "TAKEN001", "FRESH002"}
	var mu sync.Mutex
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c, nil
	}
	f := newRoomFixture(t, service.WithCodeGenerator(gen))

	first := f.createRoom(t, "alice", service.CreateRoomInput{})
	assert.Equal(t, "TAKEN001", first.Code)
	second := f.createRoom(t, "bob", service.CreateRoomInput{})
	assert.Equal(t, "FRESH002", second.Code, "冲突时应换一个码重试而不是失败")
}

func TestRoomService_CreateRoom_GeneratorFailure(t *testing.T) {
	f := newRoomFixture(t, service.WithCodeGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	_, err := f.svc.CreateRoom(context.Background(), f.users["alice"], service.CreateRoomInput{Name: "r"})
	assert.ErrorIs(t, err, service.ErrInternalServer)
}

// --- Read ---

func TestRoomService_GetRoomDetail(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.JoinByID(ctx, room.ID, f.users["bob"], nil)
	require.NoError(t, err)
	_, err = f.svc.AddSong(ctx, room.ID, f.users["alice"], 2)
	require.NoError(t, err)

	detail, err := f.svc.GetRoomByCode(ctx, strings.ToLower(room.Code), f.users["carol"])
	require.NoError(t, err)
	assert.Equal(t, room.ID, detail.ID)
	assert.Equal(t, "alice", detail.CreatorName)
	assert.Equal(t, 2, detail.ParticipantsCount)
	assert.Equal(t, 1, detail.SongsCount)
	assert.False(t, detail.IsCreator)
	assert.False(t, detail.IsParticipant)
	require.Len(t, detail.Participants, 2)
	assert.Equal(t, "alice", detail.Participants[0].Username)
	assert.Equal(t, "bob", detail.Participants[1].Username)
	require.Len(t, detail.Songs, 1)
	assert.Equal(t, "Song 2", detail.Songs[0].Title)

	detail, err = f.svc.GetRoom(ctx, room.ID, f.users["alice"])
	require.NoError(t, err)
	assert.True(t, detail.IsCreator)
	assert.True(t, detail.IsParticipant)

	_, err = f.svc.GetRoom(ctx, 9999, f.users["alice"])
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
	_, err = f.svc.GetRoomByCode(ctx, "NOPE0000", f.users["alice"])
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestRoomService_ListRooms(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	pub := f.createRoom(t, "alice", service.CreateRoomInput{Name: "pub"})
	priv := f.createRoom(t, "bob", service.CreateRoomInput{Name: "priv", AccessPolicy: domain.AccessPassword, Password: strPtr("abcd")})
	_, err := f.svc.JoinByID(ctx, priv.ID, f.users["alice"], strPtr("abcd"))
	require.NoError(t, err)

	mine, err := f.svc.ListRoomsForUser(ctx, f.users["alice"])
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, priv.ID, mine[0].ID, "最近活跃的房间在前")
	assert.Equal(t, pub.ID, mine[1].ID)

	public, err := f.svc.ListPublicRooms(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, pub.ID, public[0].ID)

	_, err = f.svc.ListPublicRooms(ctx, 0, 101)
	assert.ErrorIs(t, err, service.ErrValidation)
}

// --- Update / Delete ---

func TestRoomService_UpdateRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice := f.users["alice"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessPassword, Password: strPtr("abcd")})
	sub := f.hub.Subscribe(room.ID)

	_, err := f.svc.UpdateRoom(ctx, room.ID, f.users["bob"], service.UpdateRoomInput{Name: strPtr("hijack")})
	assert.ErrorIs(t, err, service.ErrForbidden)

	approval := domain.AccessApproval
	updated, err := f.svc.UpdateRoom(ctx, room.ID, alice, service.UpdateRoomInput{
		Name:                strPtr("Renamed"),
		AccessPolicy:        &approval,
		AcceptsJoinRequests: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Nil(t, updated.PasswordHash, "离开 password 策略时清除哈希")
	assert.True(t, updated.AcceptsJoinRequests)

	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventRoomUpdated, ev.Type)
	assert.Equal(t, domain.RoomUpdatedPayload{Name: "Renamed", AccessPolicy: domain.AccessApproval}, ev.Payload)

	_, err = f.svc.UpdateRoom(ctx, room.ID, alice, service.UpdateRoomInput{Password: strPtr("abcd")})
	assert.Equal(t, "password_not_allowed", service.CodeOf(err))

	pw := domain.AccessPassword
	_, err = f.svc.UpdateRoom(ctx, room.ID, alice, service.UpdateRoomInput{AccessPolicy: &pw})
	assert.Equal(t, "password_required", service.CodeOf(err), "切换到 password 必须提供密码")

	updated, err = f.svc.UpdateRoom(ctx, room.ID, alice, service.UpdateRoomInput{AccessPolicy: &pw, Password: strPtr("efgh")})
	require.NoError(t, err)
	assert.False(t, updated.AcceptsJoinRequests)
	require.NotNil(t, updated.PasswordHash)
}

func TestRoomService_DeleteRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.JoinByID(ctx, room.ID, f.users["bob"], nil)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, room.ID, f.users["bob"], "hi")
	require.NoError(t, err)
	_, err = f.svc.AddSong(ctx, room.ID, f.users["alice"], 1)
	require.NoError(t, err)
	sub := f.hub.Subscribe(room.ID)

	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, room.ID, f.users["bob"]), service.ErrNotCreator)
	require.NoError(t, f.svc.DeleteRoom(ctx, room.ID, f.users["alice"]))
	assert.Equal(t, domain.EventRoomDeleted, nextEvent(t, sub).Type)

	for _, model := range []interface{}{&domain.Room{}, &domain.Participant{}, &domain.Message{}, &domain.RoomSong{}} {
		var count int64
		require.NoError(t, f.db.Model(model).Count(&count).Error)
		assert.Zero(t, count, "%T 应被级联删除", model)
	}
	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, room.ID, f.users["alice"]), service.ErrRoomNotFound)
}

// --- Join ---

func TestRoomService_PasswordRoomScenario(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	bob := f.users["bob"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessPassword, Password: strPtr("abcd")})
	sub := f.hub.Subscribe(room.ID)

	_, err := f.svc.JoinByCode(ctx, room.Code, bob, strPtr("wrong"))
	assert.ErrorIs(t, err, service.ErrForbidden)
	assert.Equal(t, "invalid_password", service.CodeOf(err))

	_, err = f.svc.JoinByCode(ctx, room.Code, bob, nil)
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, "password_required", service.CodeOf(err))
	assertNoEvent(t, sub)

	detail, err := f.svc.JoinByCode(ctx, room.Code, bob, strPtr("abcd"))
	require.NoError(t, err)
	assert.True(t, detail.IsParticipant)

	ok, err := f.store.IsParticipant(ctx, room.ID, bob)
	require.NoError(t, err)
	assert.True(t, ok)

	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventUserJoined, ev.Type)
	assert.Equal(t, domain.UserPresencePayload{UserID: bob, Username: "bob"}, ev.Payload)

	// 已是参与者或房主，重新加入仍需校验密码
	_, err = f.svc.JoinByID(ctx, room.ID, bob, strPtr("wrong"))
	assert.ErrorIs(t, err, service.ErrInvalidPassword)
	_, err = f.svc.JoinByID(ctx, room.ID, bob, nil)
	assert.ErrorIs(t, err, service.ErrPasswordRequired)
	_, err = f.svc.JoinByID(ctx, room.ID, f.users["alice"], strPtr("wrong"))
	assert.ErrorIs(t, err, service.ErrInvalidPassword)
	assertNoEvent(t, sub)

	// 密码正确时只刷新 last_seen_at
	_, err = f.svc.JoinByID(ctx, room.ID, bob, strPtr("abcd"))
	require.NoError(t, err)
	assert.Equal(t, domain.EventUserJoined, nextEvent(t, sub).Type)
	count, err := f.store.CountParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRoomService_ApprovalRoomScenario(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, carol := f.users["alice"], f.users["carol"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval, AcceptsJoinRequests: true})
	sub := f.hub.Subscribe(room.ID)

	_, err := f.svc.JoinByID(ctx, room.ID, carol, nil)
	assert.ErrorIs(t, err, service.ErrApprovalRequired)
	assert.Equal(t, "approval_required", service.CodeOf(err))

	req, err := f.svc.RequestJoin(ctx, room.Code, carol)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRequestPending, req.Status)
	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventJoinRequestReceived, ev.Type)
	assert.Equal(t, domain.JoinRequestPayload{RequestID: req.ID, UserID: carol, Username: "carol"}, ev.Payload)

	_, err = f.svc.JoinByID(ctx, room.ID, carol, nil)
	assert.ErrorIs(t, err, service.ErrApprovalRequired)
	assert.Equal(t, "approval_pending", service.CodeOf(err))

	_, err = f.svc.ApproveJoinRequest(ctx, room.ID, req.ID, carol)
	assert.ErrorIs(t, err, service.ErrForbidden)

	approved, err := f.svc.ApproveJoinRequest(ctx, room.ID, req.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRequestApproved, approved.Status)
	assert.NotNil(t, approved.RespondedAt)
	ok, err := f.store.IsParticipant(ctx, room.ID, carol)
	require.NoError(t, err)
	assert.True(t, ok)
	ev = nextEvent(t, sub)
	assert.Equal(t, domain.EventUserJoined, ev.Type)

	_, err = f.svc.ApproveJoinRequest(ctx, room.ID, req.ID, alice)
	assert.ErrorIs(t, err, service.ErrInvalidState)
	assert.Equal(t, "request_not_pending", service.CodeOf(err))

	_, err = f.svc.ApproveJoinRequest(ctx, room.ID, 9999, alice)
	assert.ErrorIs(t, err, service.ErrJoinRequestNotFound)
}

func TestRoomService_ApprovalIsConsumedOnce(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, carol := f.users["alice"], f.users["carol"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval, AcceptsJoinRequests: true})

	req, err := f.svc.RequestJoin(ctx, room.Code, carol)
	require.NoError(t, err)
	_, err = f.svc.ApproveJoinRequest(ctx, room.ID, req.ID, alice)
	require.NoError(t, err)
	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, carol))

	_, err = f.svc.JoinByID(ctx, room.ID, carol, nil)
	assert.Equal(t, "approval_required", service.CodeOf(err), "离开后必须重新申请")

	// 一个尚未消费的批准可以让下一次 join 通过，并被消费
	now := time.Now().UTC()
	unconsumed := &domain.JoinRequest{RoomID: room.ID, UserID: carol, Status: domain.JoinRequestApproved, RequestedAt: now, RespondedAt: &now}
	require.NoError(t, f.store.CreateJoinRequest(ctx, unconsumed))
	_, err = f.svc.JoinByID(ctx, room.ID, carol, nil)
	require.NoError(t, err)
	_, err = f.store.FindUsableJoinRequest(ctx, room.ID, carol)
	assert.Error(t, err, "批准应已被消费")
}

func TestRoomService_RequestJoin_Rules(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	carol := f.users["carol"]
	public := f.createRoom(t, "alice", service.CreateRoomInput{})
	closed := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval})
	open := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval, AcceptsJoinRequests: true})

	_, err := f.svc.RequestJoin(ctx, public.Code, carol)
	assert.Equal(t, "not_approval_room", service.CodeOf(err))

	_, err = f.svc.RequestJoin(ctx, closed.Code, carol)
	assert.Equal(t, "closed_to_requests", service.CodeOf(err))
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = f.svc.JoinByID(ctx, closed.ID, carol, nil)
	assert.Equal(t, "closed_to_requests", service.CodeOf(err))
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.RequestJoin(ctx, open.Code, f.users["alice"])
	assert.Equal(t, "already_participant", service.CodeOf(err))

	_, err = f.svc.RequestJoin(ctx, open.Code, carol)
	require.NoError(t, err)
	_, err = f.svc.RequestJoin(ctx, open.Code, carol)
	assert.ErrorIs(t, err, service.ErrConflict)

	var count int64
	require.NoError(t, f.db.Model(&domain.JoinRequest{}).Where("room_id = ? AND user_id = ?", open.ID, carol).Count(&count).Error)
	assert.Equal(t, int64(1), count, "重复申请不应创建新记录")
}

func TestRoomService_RejectIsNotBroadcast(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, dave := f.users["alice"], f.users["dave"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval, AcceptsJoinRequests: true})
	req, err := f.svc.RequestJoin(ctx, room.Code, dave)
	require.NoError(t, err)

	sub := f.hub.Subscribe(room.ID)
	rejected, err := f.svc.RejectJoinRequest(ctx, room.ID, req.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRequestRejected, rejected.Status)
	assertNoEvent(t, sub)

	ok, err := f.store.IsParticipant(ctx, room.ID, dave)
	require.NoError(t, err)
	assert.False(t, ok)

	// 被拒绝后可以再次申请
	_, err = f.svc.RequestJoin(ctx, room.Code, dave)
	require.NoError(t, err)

	pending := domain.JoinRequestPending
	list, err := f.svc.ListJoinRequests(ctx, room.ID, alice, &pending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dave", list[0].Username)
	all, err := f.svc.ListJoinRequests(ctx, room.ID, alice, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = f.svc.ListJoinRequests(ctx, room.ID, dave, nil)
	assert.ErrorIs(t, err, service.ErrNotCreator)
}

// --- Leave ---

func TestRoomService_LeaveRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.JoinByID(ctx, room.ID, bob, nil)
	require.NoError(t, err)
	sub := f.hub.Subscribe(room.ID)

	assert.ErrorIs(t, f.svc.LeaveRoom(ctx, room.ID, f.users["carol"]), service.ErrNotParticipant)

	err = f.svc.LeaveRoom(ctx, room.ID, alice)
	assert.ErrorIs(t, err, service.ErrInvalidState)
	assert.Equal(t, "creator_cannot_leave", service.CodeOf(err))

	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, bob))
	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventUserLeft, ev.Type)
	assert.Equal(t, domain.UserPresencePayload{UserID: bob, Username: "bob"}, ev.Payload)
	assert.ErrorIs(t, f.svc.LeaveRoom(ctx, room.ID, bob), service.ErrNotParticipant, "重复离开不是静默成功")

	// 房主独自一人时可以离开，房间随之销毁
	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, alice))
	assert.Equal(t, domain.EventUserLeft, nextEvent(t, sub).Type)
	assert.Equal(t, domain.EventRoomDeleted, nextEvent(t, sub).Type)
	_, err = f.svc.GetRoom(ctx, room.ID, alice)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_LeaveRoom_KeepsRoomWithoutAutoDestroy(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, "alice", service.CreateRoomInput{AccessPolicy: domain.AccessApproval, AutoDestroyOnEmpty: boolPtr(false)})
	require.NoError(t, f.svc.LeaveRoom(ctx, room.ID, f.users["alice"]))
	detail, err := f.svc.GetRoom(ctx, room.ID, f.users["alice"])
	require.NoError(t, err)
	assert.Zero(t, detail.ParticipantsCount)

	// 房主始终可以回到自己的房间，即使房间不接受申请
	_, err = f.svc.JoinByID(ctx, room.ID, f.users["alice"], nil)
	require.NoError(t, err)
	_, err = f.svc.JoinByID(ctx, room.ID, f.users["bob"], nil)
	assert.Equal(t, "closed_to_requests", service.CodeOf(err))
}

func TestRoomService_SweepAbandonedRooms(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	abandoned := f.createRoom(t, "alice", service.CreateRoomInput{})
	kept := f.createRoom(t, "bob", service.CreateRoomInput{AutoDestroyOnEmpty: boolPtr(false)})
	active := f.createRoom(t, "carol", service.CreateRoomInput{})
	// 模拟并发离开留下的空房间
	_, err := f.store.RemoveParticipant(ctx, abandoned.ID, f.users["alice"])
	require.NoError(t, err)
	_, err = f.store.RemoveParticipant(ctx, kept.ID, f.users["bob"])
	require.NoError(t, err)
	sub := f.hub.Subscribe(abandoned.ID)

	deleted, err := f.svc.SweepAbandonedRooms(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, domain.EventRoomDeleted, nextEvent(t, sub).Type)

	_, err = f.svc.GetRoom(ctx, kept.ID, 0)
	assert.NoError(t, err)
	_, err = f.svc.GetRoom(ctx, active.ID, 0)
	assert.NoError(t, err)
}

// --- Chat ---

func TestRoomService_SendMessage_Length(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice := f.users["alice"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})

	testCases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"Empty", "", true},
		{"One character", "a", false},
		{"140 characters", strings.Repeat("a", 140), false},
		{"141 characters", strings.Repeat("a", 141), true},
		{"140 multibyte code points", strings.Repeat("歌", 140), false},
		{"141 multibyte code points", strings.Repeat("歌", 141), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := f.svc.SendMessage(ctx, room.ID, alice, tc.text)
			if tc.wantErr {
				assert.ErrorIs(t, err, service.ErrValidation)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.text, msg.Message)
		})
	}
}

func TestRoomService_Messages(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.JoinByID(ctx, room.ID, bob, nil)
	require.NoError(t, err)
	sub := f.hub.Subscribe(room.ID)

	_, err = f.svc.SendMessage(ctx, room.ID, f.users["carol"], "hello")
	assert.ErrorIs(t, err, service.ErrNotParticipant)

	for i, sender := range []uint{alice, bob, alice} {
		msg, err := f.svc.SendMessage(ctx, room.ID, sender, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		ev := nextEvent(t, sub)
		assert.Equal(t, domain.EventMessageSent, ev.Type)
		payload := ev.Payload.(domain.MessageSentPayload)
		assert.Equal(t, msg.ID, payload.MessageID)
		assert.Equal(t, msg.Username, payload.Username)
	}

	msgs, err := f.svc.GetMessages(ctx, room.ID, bob, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].Message, "返回结果从旧到新")
	assert.Equal(t, "m2", msgs[1].Message)
	assert.Equal(t, "bob", msgs[0].Username)

	msgs, err = f.svc.GetMessages(ctx, room.ID, bob, 0, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m0", msgs[0].Message)

	_, err = f.svc.GetMessages(ctx, room.ID, f.users["carol"], 10, 0)
	assert.ErrorIs(t, err, service.ErrNotParticipant)
	_, err = f.svc.GetMessages(ctx, room.ID, bob, 101, 0)
	assert.ErrorIs(t, err, service.ErrValidation)
}

// --- Playlist ---

func TestRoomService_SongScenario(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice := f.users["alice"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	sub := f.hub.Subscribe(room.ID)

	s1, err := f.svc.AddSong(ctx, room.ID, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, s1.Order)
	s2, err := f.svc.AddSong(ctx, room.ID, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Order)

	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventSongAdded, ev.Type)
	assert.Equal(t, "Song 1", ev.Payload.(domain.SongAddedPayload).Title)
	nextEvent(t, sub)

	songs, err := f.svc.ReorderSongs(ctx, room.ID, alice, []domain.SongOrder{{SongID: 2, Order: 0}, {SongID: 1, Order: 1}})
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, uint(2), songs[0].SongID)
	assert.Equal(t, uint(1), songs[1].SongID)
	ev = nextEvent(t, sub)
	assert.Equal(t, domain.EventSongsReordered, ev.Type)

	detail, err := f.svc.GetRoom(ctx, room.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint(2), detail.Songs[0].SongID, "GET 反映新的顺序")
}

func TestRoomService_SongRules(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.JoinByID(ctx, room.ID, bob, nil)
	require.NoError(t, err)

	_, err = f.svc.AddSong(ctx, room.ID, bob, 1)
	assert.ErrorIs(t, err, service.ErrForbidden, "只有房主可以修改歌单")
	_, err = f.svc.AddSong(ctx, room.ID, alice, 999)
	assert.ErrorIs(t, err, service.ErrSongNotFound)

	_, err = f.svc.AddSong(ctx, room.ID, alice, 1)
	require.NoError(t, err)
	_, err = f.svc.AddSong(ctx, room.ID, alice, 1)
	assert.ErrorIs(t, err, service.ErrConflict)

	assert.ErrorIs(t, f.svc.RemoveSong(ctx, room.ID, bob, 1), service.ErrForbidden)
	assert.ErrorIs(t, f.svc.RemoveSong(ctx, room.ID, alice, 3), service.ErrSongNotInRoom)

	sub := f.hub.Subscribe(room.ID)
	require.NoError(t, f.svc.RemoveSong(ctx, room.ID, alice, 1))
	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventSongRemoved, ev.Type)
	assert.Equal(t, domain.SongRemovedPayload{SongID: 1}, ev.Payload)

	songs, err := f.svc.ListSongs(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, songs)
}

func TestRoomService_ReorderSongs_PartialAndAtomic(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice := f.users["alice"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	for _, id := range []uint{1, 2, 3} {
		_, err := f.svc.AddSong(ctx, room.ID, alice, id)
		require.NoError(t, err)
	}

	songs, err := f.svc.ReorderSongs(ctx, room.ID, alice, []domain.SongOrder{{SongID: 3, Order: 7}})
	require.NoError(t, err)
	orders := map[uint]int{}
	for _, s := range songs {
		orders[s.SongID] = s.Order
	}
	assert.Equal(t, map[uint]int{1: 0, 2: 1, 3: 7}, orders, "未列出的歌曲保持原有顺序值")

	_, err = f.svc.ReorderSongs(ctx, room.ID, alice, []domain.SongOrder{{SongID: 1, Order: 9}, {SongID: 4, Order: 0}})
	assert.ErrorIs(t, err, service.ErrSongNotInRoom)
	songs, err = f.svc.ListSongs(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, songs[0].Order, "失败的排序不修改任何歌曲")

	_, err = f.svc.ReorderSongs(ctx, room.ID, alice, []domain.SongOrder{{SongID: 1, Order: 1}, {SongID: 1, Order: 2}})
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = f.svc.ReorderSongs(ctx, room.ID, alice, []domain.SongOrder{{SongID: 1, Order: -1}})
	assert.ErrorIs(t, err, service.ErrValidation)
	_, err = f.svc.ReorderSongs(ctx, room.ID, alice, nil)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestRoomService_ImportPlaylist(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	alice, bob := f.users["alice"], f.users["bob"]
	room := f.createRoom(t, "alice", service.CreateRoomInput{})
	_, err := f.svc.AddSong(ctx, room.ID, alice, 2)
	require.NoError(t, err)

	playlist := &domain.Playlist{OwnerID: alice, Name: "Favourites"}
	require.NoError(t, f.db.Create(playlist).Error)
	for i, id := range []uint{3, 2, 1} {
		require.NoError(t, f.db.Create(&domain.PlaylistSong{PlaylistID: playlist.ID, SongID: id, Order: i}).Error)
	}
	sub := f.hub.Subscribe(room.ID)

	_, err = f.svc.ImportPlaylist(ctx, room.ID, bob, playlist.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	result, err := f.svc.ImportPlaylist(ctx, room.ID, alice, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported, "已在房间中的歌曲被跳过")
	require.Len(t, result.Songs, 3)
	assert.Equal(t, []uint{2, 3, 1}, []uint{result.Songs[0].SongID, result.Songs[1].SongID, result.Songs[2].SongID},
		"导入的歌曲按原相对顺序追加在末尾")

	ev := nextEvent(t, sub)
	assert.Equal(t, domain.EventPlaylistImported, ev.Type)
	assert.Equal(t, domain.PlaylistImportedPayload{PlaylistID: playlist.ID, Imported: 2}, ev.Payload)

	other := &domain.Playlist{OwnerID: bob, Name: "Bob's"}
	require.NoError(t, f.db.Create(other).Error)
	_, err = f.svc.ImportPlaylist(ctx, room.ID, alice, other.ID)
	assert.ErrorIs(t, err, service.ErrPlaylistNotFound, "只能导入自己的歌单")
}

func TestRoomService_CatalogFailureIsInternal(t *testing.T) {
	db := openTestDB(t)
	catalog := new(mocks.SongCatalog)
	users := gormpersistence.NewGormUserRepository(db)
	alice := &domain.User{Username: "alice", Password: "x"}
	require.NoError(t, db.Create(alice).Error)
	svc := service.NewRoomService(gormpersistence.NewGormRoomRepository(db), users, catalog,
		service.NewBcryptHasher(bcrypt.MinCost), hub.NewHub(4, nil))
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, alice.ID, service.CreateRoomInput{Name: "r"})
	require.NoError(t, err)

	catalog.On("GetSong", mock.Anything, uint(1)).Return(nil, errors.New("catalog offline")).Once()
	_, err = svc.AddSong(ctx, room.ID, alice.ID, 1)
	assert.ErrorIs(t, err, service.ErrInternalServer)
	catalog.AssertExpectations(t)
}
