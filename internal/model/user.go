package model

import "strings"

type User struct {
	ID               string   `json:"id"`
	Username         string   `json:"username"`
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	ShortDescription string   `json:"short_description"`
	Followings       []string `json:"followings"`
	IsEmbedded       bool     `json:"is_embedded"`
	LastEmbeddedAt   int64    `json:"last_embedded_at"`
	Ctime            int64    `json:"ctime"`
	Mtime            int64    `json:"mtime"`
}

func (u *User) Embeddable() bool {
	return strings.TrimSpace(u.FirstName) != "" ||
		strings.TrimSpace(u.LastName) != "" ||
		strings.TrimSpace(u.Username) != ""
}

// ProfileText joins the descriptive profile fields, skipping blanks.
func (u *User) ProfileText() string {
	parts := make([]string, 0, 4)
	for _, v := range []string{u.FirstName, u.LastName, u.Username, u.ShortDescription} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}
