package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/chisme-chat/chisme/auth"
	"github.com/chisme-chat/chisme/persistence"
	"github.com/chisme-chat/chisme/presence"
	"github.com/chisme-chat/chisme/types"
	"github.com/gorilla/mux"
)

const bulkPresenceLimit = 200

type apiHandlers struct {
	presence  *presence.Service
	persister persistence.Persister
	verifier  auth.Verifier
}

type contextKey string

const userIdKey contextKey = "user_id"

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requireUser resolves the bearer token to a user id, rejecting the request
// otherwise. The websocket endpoints authenticate in-band instead.
func (h *apiHandlers) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userId, err := h.verifier.ResolveIdentity(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIdKey, userId)))
	})
}

func requestUser(r *http.Request) int64 {
	userId, _ := r.Context().Value(userIdKey).(int64)
	return userId
}

type presenceResponse struct {
	UserId int64        `json:"user_id"`
	Status types.Status `json:"status"`
}

func (h *apiHandlers) getMyPresence(w http.ResponseWriter, r *http.Request) {
	userId := requestUser(r)
	writeJSON(w, http.StatusOK, presenceResponse{
		UserId: userId,
		Status: h.presence.GetStatus(r.Context(), userId),
	})
}

func (h *apiHandlers) setMyStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status types.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !body.Status.Storable() {
		writeError(w, http.StatusUnprocessableEntity, "status must be one of online, away, dnd")
		return
	}
	userId := requestUser(r)
	h.presence.SetStatus(r.Context(), userId, body.Status)
	writeJSON(w, http.StatusOK, presenceResponse{UserId: userId, Status: body.Status})
}

func (h *apiHandlers) getUserPresence(w http.ResponseWriter, r *http.Request) {
	userId, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if h.persister != nil {
		user, err := h.persister.GetUser(userId)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if user == nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
	}
	writeJSON(w, http.StatusOK, presenceResponse{
		UserId: userId,
		Status: h.presence.GetStatus(r.Context(), userId),
	})
}

func (h *apiHandlers) getBulkPresence(w http.ResponseWriter, r *http.Request) {
	userIds, err := parseIdList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ids must be comma-separated integers")
		return
	}
	if len(userIds) > bulkPresenceLimit {
		writeError(w, http.StatusBadRequest, "too many ids")
		return
	}
	statuses := h.presence.GetBulkStatus(r.Context(), userIds)
	writeJSON(w, http.StatusOK, map[string]map[int64]types.Status{"statuses": statuses})
}

func (h *apiHandlers) getUnreadCounts(w http.ResponseWriter, r *http.Request) {
	if h.persister == nil {
		writeError(w, http.StatusServiceUnavailable, "no persistence configured")
		return
	}
	channelIds, err := parseIdList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ids must be comma-separated integers")
		return
	}
	counts, err := h.persister.UnreadCounts(requestUser(r), channelIds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not compute unread counts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[int64]int64{"unread": counts})
}

func (h *apiHandlers) markChannelRead(w http.ResponseWriter, r *http.Request) {
	if h.persister == nil {
		writeError(w, http.StatusServiceUnavailable, "no persistence configured")
		return
	}
	channelId, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	cursor, err := h.persister.MarkRead(requestUser(r), channelId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not mark read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"last_read_message_id": cursor})
}

func parseIdList(raw string) ([]int64, error) {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
