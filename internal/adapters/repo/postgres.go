package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"community-pulse/internal/domain"
	"community-pulse/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.EngagementRepo = (*Postgres)(nil)
	_ domain.ContentRepo    = (*Postgres)(nil)
	_ domain.DigestRunRepo  = (*Postgres)(nil)
	_ domain.UserRepo       = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// InsertLikeIfAbsent реализует domain.EngagementRepo. Конфликт по частичному
// уникальному индексу не считается ошибкой: строка уже живая.
func (p *Postgres) InsertLikeIfAbsent(ctx context.Context, actorID, targetID int64, targetType domain.TargetType) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO engagements (actor_id, target_id, target_type, kind)
VALUES ($1, $2, $3, 'like')
ON CONFLICT (actor_id, target_id, target_type, kind) WHERE kind <> 'comment' DO NOTHING
`, actorID, targetID, targetType)
	metrics.ObserveNetworkRequest("postgres", "like_insert", "engagements", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// DeleteLike удаляет живой лайк.
func (p *Postgres) DeleteLike(ctx context.Context, actorID, targetID int64, targetType domain.TargetType) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
DELETE FROM engagements
WHERE actor_id=$1 AND target_id=$2 AND target_type=$3 AND kind='like'
`, actorID, targetID, targetType)
	metrics.ObserveNetworkRequest("postgres", "like_delete", "engagements", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// InsertVote вставляет голос и двигает счётчик варианта в одной транзакции.
// Повторная вставка ловится по коду 23505: ограничение БД — финальный арбитр.
func (p *Postgres) InsertVote(ctx context.Context, actorID, pollID, optionID int64) (domain.Engagement, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "engagements", start, err)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback(ctx)

	var optionPollID int64
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT poll_id FROM poll_options WHERE id=$1`, optionID).Scan(&optionPollID)
	metrics.ObserveNetworkRequest("postgres", "poll_option_get", "poll_options", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Engagement{}, domain.ErrOptionNotFound
	}
	if err != nil {
		return domain.Engagement{}, err
	}
	if optionPollID != pollID {
		return domain.Engagement{}, domain.ErrOptionNotFound
	}

	vote := domain.Engagement{
		ActorID:    actorID,
		TargetID:   pollID,
		TargetType: domain.TargetPoll,
		Kind:       domain.KindVote,
		PollID:     pollID,
		OptionID:   optionID,
	}
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO engagements (actor_id, target_id, target_type, kind, poll_id, option_id)
VALUES ($1, $2, 'poll', 'vote', $2, $3)
RETURNING id, created_at, updated_at
`, actorID, pollID, optionID).Scan(&vote.ID, &vote.CreatedAt, &vote.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "vote_insert", "engagements", start, err)
	if isUniqueViolation(err) {
		return domain.Engagement{}, domain.ErrAlreadyVoted
	}
	if err != nil {
		return domain.Engagement{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE poll_options SET votes = votes + 1 WHERE id=$1`, optionID)
	metrics.ObserveNetworkRequest("postgres", "option_counter_inc", "poll_options", start, err)
	if err != nil {
		return domain.Engagement{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "engagements", start, err)
	if err != nil {
		return domain.Engagement{}, err
	}
	return vote, nil
}

// UpsertRSVP вставляет либо обновляет ответ на приглашение.
func (p *Postgres) UpsertRSVP(ctx context.Context, actorID, eventID int64, status domain.RSVPStatus) (domain.Engagement, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	rec := domain.Engagement{
		ActorID:    actorID,
		TargetID:   eventID,
		TargetType: domain.TargetEvent,
		Kind:       domain.KindRSVP,
		Status:     status,
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO engagements (actor_id, target_id, target_type, kind, status)
VALUES ($1, $2, 'event', 'rsvp', $3)
ON CONFLICT (actor_id, target_id, target_type, kind) WHERE kind <> 'comment'
DO UPDATE SET status = EXCLUDED.status, updated_at = now()
RETURNING id, created_at, updated_at
`, actorID, eventID, status).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "rsvp_upsert", "engagements", start, err)
	if err != nil {
		return domain.Engagement{}, err
	}
	return rec, nil
}

// InsertComment сохраняет комментарий.
func (p *Postgres) InsertComment(ctx context.Context, actorID, targetID int64, targetType domain.TargetType, content string) (domain.Engagement, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	rec := domain.Engagement{
		ActorID:    actorID,
		TargetID:   targetID,
		TargetType: targetType,
		Kind:       domain.KindComment,
		Content:    content,
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO engagements (actor_id, target_id, target_type, kind, content)
VALUES ($1, $2, $3, 'comment', $4)
RETURNING id, created_at, updated_at
`, actorID, targetID, targetType, content).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "comment_insert", "engagements", start, err)
	if err != nil {
		return domain.Engagement{}, err
	}
	return rec, nil
}

// CountFor возвращает счётчики лайков и комментариев по таргету.
func (p *Postgres) CountFor(ctx context.Context, targetID int64, targetType domain.TargetType) (domain.EngagementCounts, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var counts domain.EngagementCounts
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*) FILTER (WHERE kind='like'), COUNT(*) FILTER (WHERE kind='comment')
FROM engagements WHERE target_id=$1 AND target_type=$2
`, targetID, targetType).Scan(&counts.Likes, &counts.Comments)
	metrics.ObserveNetworkRequest("postgres", "counts_get", "engagements", start, err)
	return counts, err
}

// HasActed сообщает, есть ли живая запись указанного вида.
func (p *Postgres) HasActed(ctx context.Context, actorID, targetID int64, targetType domain.TargetType, kind domain.EngagementKind) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var acted bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM engagements
  WHERE actor_id=$1 AND target_id=$2 AND target_type=$3 AND kind=$4
)
`, actorID, targetID, targetType, kind).Scan(&acted)
	metrics.ObserveNetworkRequest("postgres", "has_acted", "engagements", start, err)
	return acted, err
}

// ListRecent возвращает последние записи журнала.
func (p *Postgres) ListRecent(ctx context.Context, limit, offset int) ([]domain.Engagement, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, actor_id, target_id, target_type, kind, content, poll_id, option_id, status, created_at, updated_at
FROM engagements
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "engagements_list_recent", "engagements", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanEngagement(row pgx.Row) (domain.Engagement, error) {
	var (
		e        domain.Engagement
		content  sql.NullString
		pollID   sql.NullInt64
		optionID sql.NullInt64
		status   sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ActorID, &e.TargetID, &e.TargetType, &e.Kind, &content, &pollID, &optionID, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.Engagement{}, err
	}
	if content.Valid {
		e.Content = content.String
	}
	if pollID.Valid {
		e.PollID = pollID.Int64
	}
	if optionID.Valid {
		e.OptionID = optionID.Int64
	}
	if status.Valid {
		e.Status = domain.RSVPStatus(status.String)
	}
	return e, nil
}

// PollWithOptions возвращает опрос с вариантами и счётчиками голосов.
func (p *Postgres) PollWithOptions(ctx context.Context, pollID int64) (domain.Poll, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var poll domain.Poll
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, question, created_at FROM polls WHERE id=$1`, pollID).
		Scan(&poll.ID, &poll.Question, &poll.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "poll_get", "polls", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	if err != nil {
		return domain.Poll{}, err
	}

	start = time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, poll_id, label, votes FROM poll_options WHERE poll_id=$1 ORDER BY id
`, pollID)
	metrics.ObserveNetworkRequest("postgres", "poll_options_list", "poll_options", start, err)
	if err != nil {
		return domain.Poll{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var opt domain.PollOption
		if err := rows.Scan(&opt.ID, &opt.PollID, &opt.Label, &opt.Votes); err != nil {
			return domain.Poll{}, err
		}
		poll.Options = append(poll.Options, opt)
	}
	return poll, rows.Err()
}

// ListEventsSince реализует domain.ContentRepo.
func (p *Postgres) ListEventsSince(ctx context.Context, since time.Time) ([]domain.Event, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, starts_at, created_at FROM events WHERE created_at >= $1 ORDER BY created_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "events_list_since", "events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.StartsAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListPollsSince возвращает опросы, созданные после отметки.
func (p *Postgres) ListPollsSince(ctx context.Context, since time.Time) ([]domain.Poll, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, question, created_at FROM polls WHERE created_at >= $1 ORDER BY created_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "polls_list_since", "polls", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var polls []domain.Poll
	for rows.Next() {
		var poll domain.Poll
		if err := rows.Scan(&poll.ID, &poll.Question, &poll.CreatedAt); err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}
	return polls, rows.Err()
}

// ListSpotlightsSince возвращает витрины, опубликованные после отметки.
func (p *Postgres) ListSpotlightsSince(ctx context.Context, since time.Time) ([]domain.Spotlight, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, published_at FROM spotlights WHERE published_at >= $1 ORDER BY published_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "spotlights_list_since", "spotlights", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Spotlight
	for rows.Next() {
		var s domain.Spotlight
		if err := rows.Scan(&s.ID, &s.Title, &s.PublishedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// ListFeedbackSince возвращает отзывы, оставленные после отметки.
func (p *Postgres) ListFeedbackSince(ctx context.Context, since time.Time) ([]domain.Feedback, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, author_id, message, created_at FROM feedback WHERE created_at >= $1 ORDER BY created_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "feedback_list_since", "feedback", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		if err := rows.Scan(&f.ID, &f.AuthorID, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// ListActiveProjects возвращает активные проекты без оконной фильтрации.
func (p *Postgres) ListActiveProjects(ctx context.Context, limit int) ([]domain.Project, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, is_active FROM projects WHERE is_active ORDER BY id LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "projects_list_active", "projects", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var pr domain.Project
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.IsActive); err != nil {
			return nil, err
		}
		projects = append(projects, pr)
	}
	return projects, rows.Err()
}

// ListOpenTasks возвращает открытые задачи без оконной фильтрации.
func (p *Postgres) ListOpenTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, project_id, title, is_open FROM tasks WHERE is_open ORDER BY id LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "tasks_list_open", "tasks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.IsOpen); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// LatestRun реализует domain.DigestRunRepo.
func (p *Postgres) LatestRun(ctx context.Context) (domain.DigestRun, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var run domain.DigestRun
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, sent_at, recipient_count, content_summary, emails_sent, emails_failed
FROM digest_runs ORDER BY sent_at DESC LIMIT 1
`).Scan(&run.ID, &run.SentAt, &run.RecipientCount, &run.ContentSummary, &run.EmailsSent, &run.EmailsFailed)
	metrics.ObserveNetworkRequest("postgres", "digest_run_latest", "digest_runs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DigestRun{}, false, nil
	}
	if err != nil {
		return domain.DigestRun{}, false, err
	}
	return run, true, nil
}

// digestRunLockID — ключ advisory-замка для записи цикла дайджеста.
const digestRunLockID = 874002101

// RecordRun вставляет запись цикла условно: строка появляется только если
// после наблюдавшейся отметки никто не записал более свежий цикл. БД
// закрывает гонку двух триггеров вместо чтения-потом-записи в приложении.
//
// Вставка идёт под pg_advisory_xact_lock: при READ COMMITTED две
// одновременные транзакции могли бы обе пройти NOT EXISTS до коммита
// первой, замок сериализует их, и вторая видит уже зафиксированную строку.
func (p *Postgres) RecordRun(ctx context.Context, run domain.DigestRun, observedLastSent time.Time) (domain.DigestRun, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	summary := strings.TrimSpace(run.ContentSummary)
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "digest_runs", start, err)
	if err != nil {
		return domain.DigestRun{}, false, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, digestRunLockID)
	metrics.ObserveNetworkRequest("postgres", "digest_run_lock", "digest_runs", start, err)
	if err != nil {
		return domain.DigestRun{}, false, err
	}

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO digest_runs (sent_at, recipient_count, content_summary, emails_sent, emails_failed)
SELECT $1, $2, $3, $4, $5
WHERE NOT EXISTS (SELECT 1 FROM digest_runs WHERE sent_at > $6)
RETURNING id
`, run.SentAt, run.RecipientCount, summary, run.EmailsSent, run.EmailsFailed, observedLastSent).Scan(&run.ID)
	metrics.ObserveNetworkRequest("postgres", "digest_run_record", "digest_runs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DigestRun{}, false, nil
	}
	if err != nil {
		return domain.DigestRun{}, false, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "digest_runs", start, err)
	if err != nil {
		return domain.DigestRun{}, false, err
	}
	run.ContentSummary = summary
	return run, true, nil
}

// ListRecipients реализует domain.UserRepo.
func (p *Postgres) ListRecipients(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, email, display_name, is_active, created_at
FROM users WHERE is_active AND email <> '' ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_recipients", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
