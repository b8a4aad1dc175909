package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"community-pulse/internal/adapters/mailer"
	"community-pulse/internal/adapters/repo"
	"community-pulse/internal/domain"
	"community-pulse/internal/infra/cache"
	"community-pulse/internal/infra/config"
	"community-pulse/internal/infra/db"
	httpinfra "community-pulse/internal/infra/http"
	"community-pulse/internal/infra/metrics"
	"community-pulse/internal/usecase/activity"
	"community-pulse/internal/usecase/digest"
	"community-pulse/internal/usecase/engagement"
)

func main() {
	cfg := config.Load()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var triggerCache domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		triggerCache = cache.NewRedis(redisClient)
	}

	engagementService := engagement.NewService(repoAdapter, log.With().Str("component", "engagement").Logger())
	collector := activity.NewService(repoAdapter, cfg.Activity.WorkItemsCap)
	digestService := digest.NewService(
		repoAdapter,
		repoAdapter,
		collector,
		mailer.NewLog(log.With().Str("component", "mailer").Logger()),
		triggerCache,
		digest.Config{
			Window:     cfg.Digest.Window,
			Timeout:    cfg.Digest.Timeout,
			Subject:    cfg.Digest.Subject,
			TriggerTTL: cfg.Digest.TriggerTTL,
		},
		log.With().Str("component", "digest").Logger(),
	)

	srv := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	r := srv.Router

	r.Post("/api/v1/targets/{type}/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		targetType, targetID, ok := targetFromURL(w, r)
		if !ok {
			return
		}
		var req actorRequest
		if !decodeBody(w, r, &req) {
			return
		}
		active, err := engagementService.ToggleLike(r.Context(), req.ActorID, targetID, targetType)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		writeJSON(w, map[string]any{"active": active})
	})

	r.Post("/api/v1/polls/{pollID}/votes", func(w http.ResponseWriter, r *http.Request) {
		pollID, ok := int64FromURL(w, r, "pollID")
		if !ok {
			return
		}
		var req voteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		vote, err := engagementService.CastVote(r.Context(), req.ActorID, pollID, req.OptionID)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		writeJSON(w, engagementResponse(vote))
	})

	r.Get("/api/v1/polls/{pollID}/results", func(w http.ResponseWriter, r *http.Request) {
		pollID, ok := int64FromURL(w, r, "pollID")
		if !ok {
			return
		}
		poll, err := engagementService.PollResults(r.Context(), pollID)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		options := make([]map[string]any, 0, len(poll.Options))
		for _, opt := range poll.Options {
			options = append(options, map[string]any{
				"id":    opt.ID,
				"label": opt.Label,
				"votes": opt.Votes,
			})
		}
		writeJSON(w, map[string]any{
			"id":       poll.ID,
			"question": poll.Question,
			"options":  options,
		})
	})

	r.Put("/api/v1/events/{eventID}/rsvp", func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := int64FromURL(w, r, "eventID")
		if !ok {
			return
		}
		var req rsvpRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rec, err := engagementService.SetRSVP(r.Context(), req.ActorID, eventID, domain.RSVPStatus(req.Status))
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		writeJSON(w, engagementResponse(rec))
	})

	r.Post("/api/v1/targets/{type}/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		targetType, targetID, ok := targetFromURL(w, r)
		if !ok {
			return
		}
		var req commentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rec, err := engagementService.PostComment(r.Context(), req.ActorID, targetID, targetType, req.Content)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		writeJSON(w, engagementResponse(rec))
	})

	r.Get("/api/v1/targets/{type}/{id}/engagement", func(w http.ResponseWriter, r *http.Request) {
		targetType, targetID, ok := targetFromURL(w, r)
		if !ok {
			return
		}
		counts, err := engagementService.CountFor(r.Context(), targetID, targetType)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		resp := map[string]any{
			"likes":    counts.Likes,
			"comments": counts.Comments,
		}
		if rawActor := r.URL.Query().Get("actor"); rawActor != "" {
			actorID, err := strconv.ParseInt(rawActor, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "actor должен быть числом")
				return
			}
			acted, err := engagementService.HasActed(r.Context(), actorID, targetID, targetType, domain.KindLike)
			if err != nil {
				writeEngagementError(w, err)
				return
			}
			resp["has_acted"] = acted
		}
		writeJSON(w, resp)
	})

	r.Get("/api/v1/activity", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		items, err := engagementService.ListRecentActivity(r.Context(), limit, offset)
		if err != nil {
			writeEngagementError(w, err)
			return
		}
		resp := make([]map[string]any, 0, len(items))
		for _, item := range items {
			resp = append(resp, engagementResponse(item))
		}
		writeJSON(w, resp)
	})

	r.Post("/api/v1/digest/run", func(w http.ResponseWriter, r *http.Request) {
		result, err := digestService.RunCycleDeduped(r.Context())
		if err != nil {
			writeDigestError(w, err)
			return
		}
		writeJSON(w, digestResponse(result))
	})

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	go func() {
		log.Info().Msg("api: старт")
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type actorRequest struct {
	ActorID int64 `json:"actor_id"`
}

type voteRequest struct {
	ActorID  int64 `json:"actor_id"`
	OptionID int64 `json:"option_id"`
}

type rsvpRequest struct {
	ActorID int64  `json:"actor_id"`
	Status  string `json:"status"`
}

type commentRequest struct {
	ActorID int64  `json:"actor_id"`
	Content string `json:"content"`
}

func targetFromURL(w http.ResponseWriter, r *http.Request) (domain.TargetType, int64, bool) {
	targetType := domain.TargetType(chi.URLParam(r, "type"))
	if !domain.ValidTargetType(targetType) {
		writeError(w, http.StatusBadRequest, "неизвестный тип контента")
		return "", 0, false
	}
	id, ok := int64FromURL(w, r, "id")
	if !ok {
		return "", 0, false
	}
	return targetType, id, true
}

func int64FromURL(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+" должен быть положительным числом")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return false
	}
	return true
}

func engagementResponse(e domain.Engagement) map[string]any {
	resp := map[string]any{
		"id":          e.ID,
		"actor_id":    e.ActorID,
		"target_id":   e.TargetID,
		"target_type": e.TargetType,
		"kind":        e.Kind,
		"created_at":  e.CreatedAt,
	}
	if e.Content != "" {
		resp["content"] = e.Content
	}
	if e.Kind == domain.KindVote {
		resp["poll_id"] = e.PollID
		resp["option_id"] = e.OptionID
	}
	if e.Kind == domain.KindRSVP {
		resp["status"] = e.Status
	}
	return resp
}

func digestResponse(result domain.DigestResult) map[string]any {
	resp := map[string]any{"ran": result.Ran}
	if result.Ran {
		resp["recipient_count"] = result.RecipientCount
		resp["emails_sent"] = result.EmailsSent
		resp["emails_failed"] = result.EmailsFailed
		resp["content_summary"] = result.ContentSummary
		return resp
	}
	resp["reason"] = result.Reason
	if result.LastSent != nil {
		resp["last_sent"] = result.LastSent
	}
	return resp
}

func writeEngagementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyVoted), errors.Is(err, domain.ErrDuplicateEngagement):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPollNotFound), errors.Is(err, domain.ErrOptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRSVPStatus),
		errors.Is(err, domain.ErrEmptyComment),
		errors.Is(err, domain.ErrUnknownTargetType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("api: ошибка журнала вовлечённости")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func writeDigestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNoRecipients):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrCycleSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("api: цикл дайджеста завершился ошибкой")
		writeError(w, http.StatusBadGateway, "цикл дайджеста не выполнен")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
