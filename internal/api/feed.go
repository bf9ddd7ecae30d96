package api

import (
	"net/http"
	"strconv"
	"strings"

	"civicsync/internal/fault"
	"civicsync/internal/repository"

	"github.com/gorilla/mux"
)

func (s *Server) handleListFeed(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	q := r.URL.Query()

	f := repository.FeedFilter{Limit: limit, Offset: offset}
	if v := q.Get("type"); v != "" {
		f.Types = []string{v}
	}
	if v := q.Get("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
			}
		}
	}
	// Block and province filters ride on the post tags.
	if v := q.Get("blockId"); v != "" {
		f.Tags = append(f.Tags, "block:"+v)
	}
	if v := q.Get("provinceId"); v != "" {
		f.Tags = append(f.Tags, "province:"+v)
	}
	if v := q.Get("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			f.Before = n
		}
	}

	posts, err := s.repo.ListFeed(r.Context(), tenantScope(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  posts,
		"limit": limit,
		"page":  offset/limit + 1,
	})
}

func (s *Server) handleGetFeedPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, mux.Vars(r))
	if !ok {
		badRequest(w, "invalid feed post id")
		return
	}

	post, err := s.repo.GetFeedPost(r.Context(), tenantScope(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if post == nil {
		writeError(w, fault.New(fault.KindNotFound, "feed post not found"))
		return
	}
	writeJSON(w, http.StatusOK, post)
}
