package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanControlToken(t *testing.T) {
	cases := []struct {
		name    string
		actor   Actor
		ownerID string
		want    bool
	}{
		{
			name:    "owner controls own token",
			actor:   Actor{UserID: "alice", MapDMID: "dm"},
			ownerID: "alice",
			want:    true,
		},
		{
			name:    "non-owner cannot control",
			actor:   Actor{UserID: "bob", MapDMID: "dm"},
			ownerID: "alice",
			want:    false,
		},
		{
			name:    "dm controls any token",
			actor:   Actor{UserID: "dm", MapDMID: "dm"},
			ownerID: "alice",
			want:    true,
		},
		{
			name:    "unowned token is dm-only",
			actor:   Actor{UserID: "alice", MapDMID: "dm"},
			ownerID: "",
			want:    false,
		},
		{
			name:    "map editor grant controls tokens",
			actor:   Actor{UserID: "bob", MapDMID: "dm", MapEditor: true},
			ownerID: "alice",
			want:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.actor.CanControlToken(tc.ownerID))
		})
	}
}

func TestCanEraseFog(t *testing.T) {
	dm := Actor{UserID: "dm", MapDMID: "dm"}
	painter := Actor{UserID: "alice", MapDMID: "dm"}
	other := Actor{UserID: "bob", MapDMID: "dm"}

	assert.True(t, dm.CanEraseFog("alice"))
	assert.True(t, painter.CanEraseFog("alice"))
	assert.False(t, other.CanEraseFog("alice"))
}

func TestIsDM(t *testing.T) {
	assert.True(t, Actor{UserID: "dm", MapDMID: "dm"}.IsDM())
	assert.False(t, Actor{UserID: "alice", MapDMID: "dm"}.IsDM())
	assert.False(t, Actor{}.IsDM(), "empty ids never confer DM rights")
}
