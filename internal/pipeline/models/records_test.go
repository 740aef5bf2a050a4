// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "testing"

func TestAuthor_DedupKey(t *testing.T) {
	tests := []struct {
		name   string
		author Author
		want   string
	}{
		{
			name:   "homepage wins",
			author: Author{Name: "Ada Lovelace", Homepage: "https://ada.example.org"},
			want:   "https://ada.example.org",
		},
		{
			name:   "name fallback is normalized",
			author: Author{Name: "  Ada LOVELACE "},
			want:   "name:ada lovelace",
		},
		{
			name:   "same person different casing collapses",
			author: Author{Name: "ada lovelace"},
			want:   "name:ada lovelace",
		},
		{
			name:   "empty author still yields a key",
			author: Author{},
			want:   "name:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.author.DedupKey(); got != tt.want {
				t.Errorf("DedupKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
