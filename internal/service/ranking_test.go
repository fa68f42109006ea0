package service

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehao1505/backend-capstone/internal/model"
)

func TestTimeDecayScore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.InDelta(t, 1.0, TimeDecayScore(now.Unix(), now), 1e-9)
	assert.InDelta(t, math.Exp(-1), TimeDecayScore(now.Add(-24*time.Hour).Unix(), now), 1e-9)
	assert.InDelta(t, 1.0, TimeDecayScore(now.Add(time.Hour).Unix(), now), 1e-9)
	assert.Greater(t, TimeDecayScore(now.Add(-time.Hour).Unix(), now), TimeDecayScore(now.Add(-2*time.Hour).Unix(), now))
}

func TestRankByRecency(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	posts := []model.Post{
		{ID: "old", Ctime: now.Add(-48 * time.Hour).Unix()},
		{ID: "new", Ctime: now.Unix()},
		{ID: "mid-a", Ctime: now.Add(-5 * time.Hour).Unix()},
		{ID: "mid-b", Ctime: now.Add(-5 * time.Hour).Unix()},
	}
	ranked := candidatesToPosts(RankByRecency(posts, now))
	ids := make([]string, 0, len(ranked))
	for _, p := range ranked {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"new", "mid-a", "mid-b", "old"}, ids)
}

func TestSelectDiverseEdgeCases(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	assert.Empty(t, SelectDiverse(nil, 5, rng))
	assert.Empty(t, SelectDiverse([]model.Post{{ID: "a", Author: "x"}}, 0, rng))

	single := seqPosts(4, "solo", func(int) int { return 0 }, 1000)
	got := SelectDiverse(single, 10, rng)
	assert.Equal(t, single, got)
	assert.Len(t, SelectDiverse(single, 2, rng), 2)
}

func TestSelectDiverseKeepsPerAuthorOrder(t *testing.T) {
	var posts []model.Post
	posts = append(posts, seqPosts(3, "a", func(int) int { return 0 }, 1000)...)
	posts = append(posts, seqPosts(3, "b", func(int) int { return 0 }, 1000)...)
	got := SelectDiverse(posts, 6, rand.New(rand.NewPCG(3, 4)))
	require.Len(t, got, 6)
	next := map[string]int{}
	for _, p := range got {
		assert.Equal(t, fmt.Sprintf("%s-%02d", p.Author, next[p.Author]), p.ID)
		next[p.Author]++
	}
}

func TestSelectDiverseAuthorBound(t *testing.T) {
	for seed := uint64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*31+1))
		authors := 2 + int(seed%4)
		var posts []model.Post
		for a := 0; a < authors; a++ {
			n := 2 + int((seed+uint64(a))%3)
			posts = append(posts, seqPosts(n, fmt.Sprintf("u%d", a), func(int) int { return 0 }, 1000)...)
		}
		rng.Shuffle(len(posts), func(i, j int) { posts[i], posts[j] = posts[j], posts[i] })
		limit := 2*authors - 1
		got := SelectDiverse(posts, limit, rng)
		require.Len(t, got, limit)

		firstRound := map[string]bool{}
		for _, p := range got[:authors] {
			assert.False(t, firstRound[p.Author], "seed %d: author %s repeated in first round", seed, p.Author)
			firstRound[p.Author] = true
		}
		secondRound := map[string]bool{}
		for _, p := range got[authors:] {
			assert.False(t, secondRound[p.Author], "seed %d: author %s repeated in second round", seed, p.Author)
			secondRound[p.Author] = true
		}
	}
}

func TestSelectDiverseDeterministicWithSeed(t *testing.T) {
	var posts []model.Post
	for _, a := range []string{"a", "b", "c"} {
		posts = append(posts, seqPosts(3, a, func(int) int { return 0 }, 1000)...)
	}
	first := SelectDiverse(posts, 9, rand.New(rand.NewPCG(9, 9)))
	second := SelectDiverse(posts, 9, rand.New(rand.NewPCG(9, 9)))
	assert.Equal(t, first, second)
}
