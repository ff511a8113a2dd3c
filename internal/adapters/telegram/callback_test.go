package telegram

import (
	"testing"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

func TestParseReactionCallback(t *testing.T) {
	cases := []struct {
		name     string
		data     string
		reaction domain.Reaction
		postID   int64
		ok       bool
	}{
		{name: "up", data: "react:up:42", reaction: domain.ReactionUp, postID: 42, ok: true},
		{name: "down", data: "react:down:7", reaction: domain.ReactionDown, postID: 7, ok: true},
		{name: "чужой префикс", data: "digest_all", ok: false},
		{name: "неизвестная реакция", data: "react:meh:42", ok: false},
		{name: "не число", data: "react:up:abc", ok: false},
		{name: "нулевой пост", data: "react:up:0", ok: false},
		{name: "пусто", data: "", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reaction, postID, ok := ParseReactionCallback(tc.data)
			if ok != tc.ok {
				t.Fatalf("ожидали ok=%v, получили %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if reaction != tc.reaction || postID != tc.postID {
				t.Fatalf("ожидали (%s, %d), получили (%s, %d)", tc.reaction, tc.postID, reaction, postID)
			}
		})
	}
}
