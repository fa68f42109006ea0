package model

type Post struct {
	ID             string   `json:"id"`
	Author         string   `json:"author"`
	Content        string   `json:"content"`
	Images         []string `json:"images"`
	LikeCount      int      `json:"like_count"`
	IsHidden       bool     `json:"is_hidden"`
	IsDeleted      bool     `json:"is_deleted"`
	IsEmbedded     bool     `json:"is_embedded"`
	LastEmbeddedAt int64    `json:"last_embedded_at"`
	Ctime          int64    `json:"ctime"`
	Mtime          int64    `json:"mtime"`
}

// Embeddable reports whether the post carries anything worth a vector.
func (p *Post) Embeddable() bool {
	return p.Content != "" || len(p.Images) > 0
}
