package domain

import "time"

// Feedback представляет отзыв пользователя сообществу.
type Feedback struct {
	ID        int64
	AuthorID  int64
	Message   string
	CreatedAt time.Time
}
