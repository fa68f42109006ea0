package service

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/thehao1505/backend-capstone/internal/model"
)

// Random is the source used for author picks and shuffles. *rand.Rand from
// math/rand/v2 satisfies it; tests inject a seeded one.
type Random interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int                     { return rand.IntN(n) }
func (globalRandom) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

type ScoredCandidate struct {
	Post  model.Post
	Score float64
}

// TimeDecayScore halves relevance roughly every 16.6 hours: exp(-hours/24).
// Posts dated in the future score 1.
func TimeDecayScore(createdAt int64, now time.Time) float64 {
	hours := now.Sub(time.Unix(createdAt, 0)).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-hours / 24)
}

// RankByRecency scores posts by time decay and sorts them best first.
// Equal scores keep their input order.
func RankByRecency(posts []model.Post, now time.Time) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(posts))
	for _, p := range posts {
		scored = append(scored, ScoredCandidate{Post: p, Score: TimeDecayScore(p.Ctime, now)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

func candidatesToPosts(scored []ScoredCandidate) []model.Post {
	posts := make([]model.Post, 0, len(scored))
	for _, c := range scored {
		posts = append(posts, c.Post)
	}
	return posts
}

// SelectDiverse interleaves authors in rounds: within a round every author
// that still has candidates is taken once, in random order, each time
// contributing its next post in input order. It stops at limit posts or
// when candidates run out.
func SelectDiverse(posts []model.Post, limit int, rng Random) []model.Post {
	if limit <= 0 || len(posts) == 0 {
		return []model.Post{}
	}
	if rng == nil {
		rng = globalRandom{}
	}
	groups := make(map[string][]model.Post)
	authors := make([]string, 0)
	for _, p := range posts {
		if _, ok := groups[p.Author]; !ok {
			authors = append(authors, p.Author)
		}
		groups[p.Author] = append(groups[p.Author], p)
	}
	selected := make([]model.Post, 0, min(limit, len(posts)))
	var round []string
	for len(selected) < limit && len(authors) > 0 {
		if len(round) == 0 {
			round = append(round[:0], authors...)
		}
		idx := rng.IntN(len(round))
		author := round[idx]
		round = slices.Delete(round, idx, idx+1)

		queue := groups[author]
		selected = append(selected, queue[0])
		groups[author] = queue[1:]
		if len(queue) == 1 {
			authors = slices.DeleteFunc(authors, func(a string) bool { return a == author })
		}
	}
	return selected
}

func shufflePosts(posts []model.Post, rng Random) {
	if rng == nil {
		rng = globalRandom{}
	}
	rng.Shuffle(len(posts), func(i, j int) {
		posts[i], posts[j] = posts[j], posts[i]
	})
}
