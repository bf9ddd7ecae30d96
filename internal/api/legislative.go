package api

import (
	"net/http"
	"strconv"
	"time"

	"civicsync/internal/fault"
	"civicsync/internal/repository"

	"github.com/gorilla/mux"
)

func (s *Server) handleListLegislators(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	q := r.URL.Query()

	f := repository.LegislatorFilter{
		Block:    q.Get("blockId"),
		Province: q.Get("provinceId"),
		Chamber:  q.Get("chamber"),
		Search:   q.Get("search"),
		Limit:    limit,
		Offset:   offset,
	}
	if v := q.Get("isActive"); v != "" {
		active := v == "true" || v == "1"
		f.Active = &active
	}

	legislators, err := s.repo.ListLegislators(r.Context(), tenantScope(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  legislators,
		"limit": limit,
		"page":  offset/limit + 1,
	})
}

func (s *Server) handleGetLegislator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, mux.Vars(r))
	if !ok {
		badRequest(w, "invalid legislator id")
		return
	}

	leg, err := s.repo.GetLegislator(r.Context(), tenantScope(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if leg == nil {
		writeError(w, fault.New(fault.KindNotFound, "legislator not found"))
		return
	}
	writeJSON(w, http.StatusOK, leg)
}

func (s *Server) handleLegislatorMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, mux.Vars(r))
	if !ok {
		badRequest(w, "invalid legislator id")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = strconv.Itoa(time.Now().UTC().Year())
	}

	metric, err := s.repo.GetLegislatorMetric(r.Context(), id, period)
	if err != nil {
		writeError(w, err)
		return
	}
	if metric == nil {
		writeError(w, fault.New(fault.KindNotFound, "no metrics for period "+period))
		return
	}
	writeJSON(w, http.StatusOK, metric)
}

// handleLegislatorActivity pages the feed filtered down to one legislator.
func (s *Server) handleLegislatorActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, mux.Vars(r))
	if !ok {
		badRequest(w, "invalid legislator id")
		return
	}

	ctx := r.Context()
	tenantID := tenantScope(r)
	leg, err := s.repo.GetLegislator(ctx, tenantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if leg == nil {
		writeError(w, fault.New(fault.KindNotFound, "legislator not found"))
		return
	}

	limit, offset := paging(r)
	posts, err := s.repo.ListFeed(ctx, tenantID, repository.FeedFilter{
		Tags:   []string{"legislator:" + leg.ExternalID},
		Limit:  limit,
		Offset: offset,
	})
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

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	q := r.URL.Query()

	f := repository.BillFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
		Period: q.Get("period"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if v := q.Get("authorId"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.AuthorID = n
		}
	}

	bills, err := s.repo.ListBills(r.Context(), tenantScope(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  bills,
		"limit": limit,
		"page":  offset/limit + 1,
	})
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, mux.Vars(r))
	if !ok {
		badRequest(w, "invalid bill id")
		return
	}

	bill, err := s.repo.GetBill(r.Context(), tenantScope(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if bill == nil {
		writeError(w, fault.New(fault.KindNotFound, "bill not found"))
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.repo.DistinctBlocks(r.Context(), tenantScope(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": blocks})
}

func (s *Server) handleListProvinces(w http.ResponseWriter, r *http.Request) {
	provinces, err := s.repo.DistinctProvinces(r.Context(), tenantScope(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": provinces})
}
