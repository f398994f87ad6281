package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomValidation(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		password string
		wantErr  error
	}{
		{"open room", "lobby", "", nil},
		{"protected room", "vault", "s3cret", nil},
		{"empty name", "", "", ErrInvalidName},
		{"bad name", "the lobby", "", ErrInvalidName},
		{"bad password", "lobby", "pass word", ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, err := NewRoom(tt.roomName, "alice", tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, room)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.roomName, room.Name())
			assert.Equal(t, "alice", room.Creator())
			assert.True(t, room.IsEmpty())
			assert.False(t, room.CreatedAt().IsZero())
		})
	}
}

func TestRoomMembershipIsIdempotent(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)

	assert.True(t, room.AddMember("alice"))
	assert.False(t, room.AddMember("alice"))
	assert.Equal(t, 1, room.Len())
	assert.True(t, room.HasMember("alice"))

	assert.True(t, room.RemoveMember("alice"))
	assert.False(t, room.RemoveMember("alice"))
	assert.True(t, room.IsEmpty())
}

func TestRoomPasswordInvariant(t *testing.T) {
	open, err := NewRoom("open", "alice", "")
	require.NoError(t, err)
	assert.True(t, open.ValidatePassword(""))
	assert.True(t, open.ValidatePassword("anything"))

	locked, err := NewRoom("locked", "alice", "pw1")
	require.NoError(t, err)
	assert.False(t, locked.ValidatePassword(""))
	assert.False(t, locked.ValidatePassword("pw2"))
	assert.True(t, locked.ValidatePassword("pw1"))

	assert.False(t, locked.ChangePassword("mallory", ""), "non-creator must be refused")
	assert.True(t, locked.ValidatePassword("pw1"))
	assert.False(t, locked.ValidatePassword(""))

	assert.False(t, locked.ChangePassword("alice", "bad pw"))
	assert.True(t, locked.ValidatePassword("pw1"))

	require.True(t, locked.ChangePassword("alice", "pw2"))
	assert.False(t, locked.ValidatePassword("pw1"))
	assert.True(t, locked.ValidatePassword("pw2"))

	require.True(t, locked.ChangePassword("alice", ""))
	assert.True(t, locked.ValidatePassword(""))
	assert.False(t, locked.HasPassword())
}

func TestRoomSetPasswordErrors(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)

	assert.ErrorIs(t, room.SetPassword("bob", "pw"), ErrNotCreator)
	assert.ErrorIs(t, room.SetPassword("alice", "p w"), ErrInvalidPassword)
	assert.NoError(t, room.SetPassword("alice", "pw"))
}

func TestRoomPasswordConcurrentReaders(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "one")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.True(t, room.ValidatePassword("one"), "stored password is always one or none")
				assert.False(t, room.ValidatePassword("two"), "two is never stored")
			}
		}()
	}
	for j := 0; j < 10; j++ {
		pw := "one"
		if j%2 == 0 {
			pw = ""
		}
		require.True(t, room.ChangePassword("alice", pw))
	}
	wg.Wait()
}

func TestRoomHistoryBound(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		room.AppendHistory(protocol.Envelope{Type: protocol.TypeRoomMessageBroadcast, Content: fmt.Sprintf("m%d", i)})
	}

	all := room.RecentHistory(HistoryLimit)
	require.Len(t, all, HistoryLimit)
	for i, env := range all {
		assert.Equal(t, fmt.Sprintf("m%d", i+50), env.Content)
	}

	assert.Len(t, room.RecentHistory(500), HistoryLimit)
	assert.Nil(t, room.RecentHistory(0))

	last := room.RecentHistory(3)
	require.Len(t, last, 3)
	assert.Equal(t, []string{"m147", "m148", "m149"}, []string{last[0].Content, last[1].Content, last[2].Content})
}

func TestRoomRecentHistoryShorterThanRequest(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)

	room.AppendHistory(protocol.Envelope{Content: "a"})
	room.AppendHistory(protocol.Envelope{Content: "b"})

	got := room.RecentHistory(10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)
}

func TestRoomJoinChecks(t *testing.T) {
	room, err := NewRoom("vault", "alice", "pw")
	require.NoError(t, err)
	alice := newFakePeer("alice")
	noop := func([]string, []protocol.Envelope) {}

	assert.ErrorIs(t, room.Join(alice, "", 0, noop), ErrWrongPassword)
	assert.ErrorIs(t, room.Join(alice, "nope", 0, noop), ErrWrongPassword)

	var members []string
	require.NoError(t, room.Join(alice, "pw", 0, func(m []string, _ []protocol.Envelope) { members = m }))
	assert.Equal(t, []string{"alice"}, members)
	assert.ErrorIs(t, room.Join(alice, "pw", 0, noop), ErrAlreadyMember)

	gone := newFakePeer("bob")
	gone.Close()
	assert.ErrorIs(t, room.Join(gone, "pw", 0, noop), ErrPeerClosed)
	assert.False(t, room.HasMember("bob"))
}

func TestRoomBroadcastRequiresMembership(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)
	room.AddMember("alice")

	err = room.Broadcast("bob", protocol.Envelope{Content: "hi"}, func([]string) {
		t.Fatal("non-member broadcast must not be delivered")
	})
	assert.ErrorIs(t, err, ErrNotMember)

	var got []string
	require.NoError(t, room.Broadcast("alice", protocol.Envelope{Content: "hi"}, func(m []string) { got = m }))
	assert.Equal(t, []string{"alice"}, got)
	assert.Len(t, room.RecentHistory(10), 1)
}

func TestRoomRegistryCreateIsUnique(t *testing.T) {
	reg := NewRoomRegistry()

	room, err := reg.Create("lobby", "alice", "")
	require.NoError(t, err)
	assert.True(t, room.IsEmpty(), "creator is not auto-joined by the registry")

	_, err = reg.Create("lobby", "bob", "")
	assert.ErrorIs(t, err, ErrRoomExists)

	got, ok := reg.Get("lobby")
	require.True(t, ok)
	assert.Same(t, room, got)
	assert.Equal(t, "alice", got.Creator())

	_, err = reg.Create("bad name", "bob", "")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, []string{"lobby"}, reg.Names())
}

func TestRoomRegistryConcurrentCreateOneWinner(t *testing.T) {
	reg := NewRoomRegistry()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := reg.Create("lobby", fmt.Sprintf("user%d", i), ""); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, reg.Len())
}

func TestRoomRegistryRemoveIfEmpty(t *testing.T) {
	reg := NewRoomRegistry()
	room, err := reg.Create("lobby", "alice", "")
	require.NoError(t, err)
	room.AddMember("alice")

	assert.False(t, reg.RemoveIfEmpty(room), "occupied room stays")
	_, ok := reg.Get("lobby")
	assert.True(t, ok)

	room.RemoveMember("alice")
	assert.True(t, reg.RemoveIfEmpty(room))
	_, ok = reg.Get("lobby")
	assert.False(t, ok)
	assert.False(t, reg.RemoveIfEmpty(room), "second removal is a no-op")

	assert.False(t, room.AddMember("bob"), "destroyed room admits nobody")
}

func TestRoomRegistryRemoveIfEmptyIgnoresStaleRoom(t *testing.T) {
	reg := NewRoomRegistry()
	old, err := reg.Create("lobby", "alice", "")
	require.NoError(t, err)
	require.True(t, reg.RemoveIfEmpty(old))

	fresh, err := reg.Create("lobby", "bob", "")
	require.NoError(t, err)

	assert.False(t, reg.RemoveIfEmpty(old))
	got, ok := reg.Get("lobby")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRoomRegistryJoinRacingRemoval(t *testing.T) {
	for i := 0; i < 100; i++ {
		reg := NewRoomRegistry()
		room, err := reg.Create("lobby", "alice", "")
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			joinErr error
			removed bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			joinErr = room.Join(newFakePeer("bob"), "", 0, func([]string, []protocol.Envelope) {})
		}()
		go func() {
			defer wg.Done()
			removed = reg.RemoveIfEmpty(room)
		}()
		wg.Wait()

		_, registered := reg.Get("lobby")
		if removed {
			assert.ErrorIs(t, joinErr, ErrRoomNotFound)
			assert.False(t, registered)
		} else {
			assert.NoError(t, joinErr)
			assert.True(t, registered)
			assert.Equal(t, 1, room.Len())
		}
	}
}

func TestRoomRegistryRoomsOf(t *testing.T) {
	reg := NewRoomRegistry()
	a, _ := reg.Create("a", "alice", "")
	b, _ := reg.Create("b", "alice", "")
	_, _ = reg.Create("c", "alice", "")
	a.AddMember("alice")
	b.AddMember("alice")

	names := make([]string, 0, 2)
	for _, room := range reg.RoomsOf("alice") {
		names = append(names, room.Name())
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
	assert.Empty(t, reg.RoomsOf("bob"))
}

func TestRoomInfoSnapshot(t *testing.T) {
	room, err := NewRoom("lobby", "alice", "")
	require.NoError(t, err)
	room.AddMember("bob")
	room.AddMember("alice")

	info := room.Info()
	assert.Equal(t, "lobby", info.Name)
	assert.Equal(t, "alice", info.Creator)
	assert.Equal(t, room.CreatedAt(), info.CreatedAt)
	assert.Equal(t, []string{"alice", "bob"}, info.Members)
}
