package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"community-pulse/internal/domain"
)

// stubLedger имитирует поведение ограничений БД в памяти.
type stubLedger struct {
	mu       sync.Mutex
	likes    map[string]bool
	votes    map[string]int64 // actor|poll -> option
	options  map[int64]*stubOption
	rsvps    map[string]domain.Engagement
	comments []domain.Engagement
	nextID   int64

	// missDeletes заставляет DeleteLike промахнуться указанное число раз,
	// имитируя проигранную гонку с чужим удалением.
	missDeletes int
}

type stubOption struct {
	pollID int64
	votes  int
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		likes:   make(map[string]bool),
		votes:   make(map[string]int64),
		options: make(map[int64]*stubOption),
		rsvps:   make(map[string]domain.Engagement),
	}
}

func likeKey(actorID, targetID int64, targetType domain.TargetType) string {
	return fmt.Sprintf("%d|%d|%s", actorID, targetID, targetType)
}

func (s *stubLedger) InsertLikeIfAbsent(_ context.Context, actorID, targetID int64, targetType domain.TargetType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := likeKey(actorID, targetID, targetType)
	if s.likes[key] {
		return false, nil
	}
	s.likes[key] = true
	return true, nil
}

func (s *stubLedger) DeleteLike(_ context.Context, actorID, targetID int64, targetType domain.TargetType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missDeletes > 0 {
		s.missDeletes--
		return false, nil
	}
	key := likeKey(actorID, targetID, targetType)
	if !s.likes[key] {
		return false, nil
	}
	delete(s.likes, key)
	return true, nil
}

func (s *stubLedger) InsertVote(_ context.Context, actorID, pollID, optionID int64) (domain.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opt, ok := s.options[optionID]
	if !ok || opt.pollID != pollID {
		return domain.Engagement{}, domain.ErrOptionNotFound
	}
	key := fmt.Sprintf("%d|%d", actorID, pollID)
	if _, voted := s.votes[key]; voted {
		return domain.Engagement{}, domain.ErrAlreadyVoted
	}
	s.votes[key] = optionID
	opt.votes++
	s.nextID++
	return domain.Engagement{
		ID:         s.nextID,
		ActorID:    actorID,
		TargetID:   pollID,
		TargetType: domain.TargetPoll,
		Kind:       domain.KindVote,
		PollID:     pollID,
		OptionID:   optionID,
	}, nil
}

func (s *stubLedger) UpsertRSVP(_ context.Context, actorID, eventID int64, status domain.RSVPStatus) (domain.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d|%d", actorID, eventID)
	rec, ok := s.rsvps[key]
	if !ok {
		s.nextID++
		rec = domain.Engagement{
			ID:         s.nextID,
			ActorID:    actorID,
			TargetID:   eventID,
			TargetType: domain.TargetEvent,
			Kind:       domain.KindRSVP,
		}
	}
	rec.Status = status
	s.rsvps[key] = rec
	return rec, nil
}

func (s *stubLedger) InsertComment(_ context.Context, actorID, targetID int64, targetType domain.TargetType, content string) (domain.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := domain.Engagement{
		ID:         s.nextID,
		ActorID:    actorID,
		TargetID:   targetID,
		TargetType: targetType,
		Kind:       domain.KindComment,
		Content:    content,
	}
	s.comments = append(s.comments, rec)
	return rec, nil
}

func (s *stubLedger) CountFor(_ context.Context, targetID int64, targetType domain.TargetType) (domain.EngagementCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts domain.EngagementCounts
	for key := range s.likes {
		var actor, target int64
		var tt string
		fmt.Sscanf(key, "%d|%d|%s", &actor, &target, &tt)
		if target == targetID && domain.TargetType(tt) == targetType {
			counts.Likes++
		}
	}
	for _, c := range s.comments {
		if c.TargetID == targetID && c.TargetType == targetType {
			counts.Comments++
		}
	}
	return counts, nil
}

func (s *stubLedger) HasActed(_ context.Context, actorID, targetID int64, targetType domain.TargetType, kind domain.EngagementKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case domain.KindLike:
		return s.likes[likeKey(actorID, targetID, targetType)], nil
	case domain.KindVote:
		_, ok := s.votes[fmt.Sprintf("%d|%d", actorID, targetID)]
		return ok, nil
	case domain.KindRSVP:
		_, ok := s.rsvps[fmt.Sprintf("%d|%d", actorID, targetID)]
		return ok, nil
	}
	return false, nil
}

func (s *stubLedger) ListRecent(_ context.Context, limit, offset int) ([]domain.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]domain.Engagement(nil), s.comments...)
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *stubLedger) PollWithOptions(_ context.Context, pollID int64) (domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	poll := domain.Poll{ID: pollID}
	found := false
	for id, opt := range s.options {
		if opt.pollID == pollID {
			found = true
			poll.Options = append(poll.Options, domain.PollOption{ID: id, PollID: pollID, Votes: opt.votes})
		}
	}
	if !found {
		return domain.Poll{}, domain.ErrPollNotFound
	}
	return poll, nil
}

func newTestService(repo domain.EngagementRepo) *Service {
	return NewService(repo, zerolog.Nop())
}

func TestToggleLikeParity(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		active, err := service.ToggleLike(ctx, 1, 10, domain.TargetEvent)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		wantActive := i%2 == 0
		if active != wantActive {
			t.Fatalf("после %d переключений ожидали active=%v", i+1, wantActive)
		}
	}

	acted, err := service.HasActed(ctx, 1, 10, domain.TargetEvent, domain.KindLike)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !acted {
		t.Fatalf("после нечётного числа переключений лайк должен быть живым")
	}
}

func TestToggleLikeConcurrent(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.ToggleLike(ctx, 7, 42, domain.TargetSpotlight); err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
		}()
	}
	wg.Wait()

	ledger.mu.Lock()
	liveRows := 0
	for _, live := range ledger.likes {
		if live {
			liveRows++
		}
	}
	ledger.mu.Unlock()
	if liveRows > 1 {
		t.Fatalf("больше одной живой строки лайка: %d", liveRows)
	}
}

func TestToggleLikeRetriesLostRace(t *testing.T) {
	ledger := newStubLedger()
	// Лайк уже живой, но удаление один раз промахнётся, как будто строку
	// успел снять параллельный вызов.
	ledger.likes[likeKey(1, 10, domain.TargetEvent)] = true
	ledger.missDeletes = 1
	service := newTestService(ledger)

	active, err := service.ToggleLike(context.Background(), 1, 10, domain.TargetEvent)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if active {
		t.Fatalf("повторная попытка должна была закончиться удалением")
	}
}

func TestToggleLikeUnknownTarget(t *testing.T) {
	service := newTestService(newStubLedger())
	_, err := service.ToggleLike(context.Background(), 1, 10, "article")
	if !errors.Is(err, domain.ErrUnknownTargetType) {
		t.Fatalf("ожидали ErrUnknownTargetType, получили %v", err)
	}
}

func TestCastVoteRejectsSecondVote(t *testing.T) {
	ledger := newStubLedger()
	ledger.options[101] = &stubOption{pollID: 5}
	ledger.options[102] = &stubOption{pollID: 5}
	service := newTestService(ledger)
	ctx := context.Background()

	vote, err := service.CastVote(ctx, 1, 5, 101)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if vote.OptionID != 101 {
		t.Fatalf("ожидали голос за вариант 101")
	}

	_, err = service.CastVote(ctx, 1, 5, 102)
	if !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Fatalf("ожидали ErrAlreadyVoted, получили %v", err)
	}

	// Счётчики не сдвинулись: голос не задвоен и не переехал.
	if ledger.options[101].votes != 1 {
		t.Fatalf("счётчик первого варианта изменился: %d", ledger.options[101].votes)
	}
	if ledger.options[102].votes != 0 {
		t.Fatalf("счётчик второго варианта изменился: %d", ledger.options[102].votes)
	}
}

func TestCastVoteCounterMatchesRows(t *testing.T) {
	ledger := newStubLedger()
	ledger.options[101] = &stubOption{pollID: 5}
	ledger.options[102] = &stubOption{pollID: 5}
	service := newTestService(ledger)
	ctx := context.Background()

	for actor := int64(1); actor <= 6; actor++ {
		opt := int64(101)
		if actor%2 == 0 {
			opt = 102
		}
		if _, err := service.CastVote(ctx, actor, 5, opt); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	// Повторные голоса не должны попасть в счётчики.
	for actor := int64(1); actor <= 3; actor++ {
		if _, err := service.CastVote(ctx, actor, 5, 101); !errors.Is(err, domain.ErrAlreadyVoted) {
			t.Fatalf("ожидали ErrAlreadyVoted, получили %v", err)
		}
	}

	total := ledger.options[101].votes + ledger.options[102].votes
	if total != len(ledger.votes) {
		t.Fatalf("сумма счётчиков %d не равна числу строк голосов %d", total, len(ledger.votes))
	}
}

func TestCastVoteUnknownOption(t *testing.T) {
	ledger := newStubLedger()
	ledger.options[101] = &stubOption{pollID: 5}
	service := newTestService(ledger)

	_, err := service.CastVote(context.Background(), 1, 5, 999)
	if !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("ожидали ErrOptionNotFound, получили %v", err)
	}
	_, err = service.CastVote(context.Background(), 1, 6, 101)
	if !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("вариант чужого опроса должен отклоняться, получили %v", err)
	}
}

func TestSetRSVPUpsert(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	first, err := service.SetRSVP(ctx, 1, 20, domain.RSVPMaybe)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := service.SetRSVP(ctx, 1, 20, domain.RSVPAttending)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if len(ledger.rsvps) != 1 {
		t.Fatalf("ожидали ровно одну строку RSVP, получили %d", len(ledger.rsvps))
	}
	if second.ID != first.ID {
		t.Fatalf("повторный вызов должен обновлять ту же строку")
	}
	if second.Status != domain.RSVPAttending {
		t.Fatalf("ожидали статус attending, получили %s", second.Status)
	}
}

func TestSetRSVPInvalidStatus(t *testing.T) {
	service := newTestService(newStubLedger())
	_, err := service.SetRSVP(context.Background(), 1, 20, "perhaps")
	if !errors.Is(err, domain.ErrInvalidRSVPStatus) {
		t.Fatalf("ожидали ErrInvalidRSVPStatus, получили %v", err)
	}
}

func TestPostCommentRejectsEmpty(t *testing.T) {
	service := newTestService(newStubLedger())
	_, err := service.PostComment(context.Background(), 1, 10, domain.TargetEvent, "   ")
	if !errors.Is(err, domain.ErrEmptyComment) {
		t.Fatalf("ожидали ErrEmptyComment, получили %v", err)
	}
}

func TestPostCommentNoUniqueness(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := service.PostComment(ctx, 1, 10, domain.TargetEvent, "ещё комментарий"); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if len(ledger.comments) != 3 {
		t.Fatalf("ожидали 3 комментария, получили %d", len(ledger.comments))
	}
}

func TestCountForTallysLikesAndComments(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	for actor := int64(1); actor <= 2; actor++ {
		if _, err := service.ToggleLike(ctx, actor, 10, domain.TargetEvent); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if _, err := service.PostComment(ctx, 3, 10, domain.TargetEvent, "отличное событие"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	counts, err := service.CountFor(ctx, 10, domain.TargetEvent)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if counts.Likes != 2 || counts.Comments != 1 {
		t.Fatalf("ожидали 2 лайка и 1 комментарий, получили %+v", counts)
	}
}

func TestListRecentActivityClampsLimit(t *testing.T) {
	ledger := newStubLedger()
	service := newTestService(ledger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := service.PostComment(ctx, int64(i+1), 10, domain.TargetEvent, "комментарий"); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	items, err := service.ListRecentActivity(ctx, -1, -5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("отрицательные параметры должны заменяться дефолтами, получили %d записей", len(items))
	}
}
