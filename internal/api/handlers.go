package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
	"github.com/kizashi/subsidy-radar/internal/salesmsg"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

const (
	defaultTopLimit       = 5
	maxTopLimit           = 50
	defaultSubsidiesLimit = 100
	maxSubsidiesLimit     = 500
)

type topDTO struct {
	MunicipalityName    string             `json:"municipality_name"`
	ActiveCount         int                `json:"active_count"`
	UpcomingCount       int                `json:"upcoming_count"`
	NearestDeadlineDate *string            `json:"nearest_deadline_date"`
	Score               int                `json:"score"`
	BriefText           string             `json:"brief_text"`
	TopSubsidies        []radar.TopSubsidy `json:"top_subsidies"`
}

type priorityDTO struct {
	MunicipalityName string               `json:"municipality_name"`
	Score            int                  `json:"score"`
	Reason           radar.PriorityReason `json:"reason"`
	DetailLink       string               `json:"detail_link"`
	ComputedAt       time.Time            `json:"computed_at"`
}

type itemDTO struct {
	Title            string     `json:"title"`
	MunicipalityName *string    `json:"municipality_name"`
	Status           string     `json:"status"`
	Category         string     `json:"category,omitempty"`
	DeadlineDate     *string    `json:"deadline_date"`
	EndDate          *string    `json:"end_date"`
	SourceURL        string     `json:"source_url"`
	Summary          *string    `json:"summary"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// topMunicipalities handles GET /v1/municipalities/top?pref=&category=&limit=.
func (s *Server) topMunicipalities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pref, err := parsePref(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	category, err := parseCategory(q, taxonomy.All)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(q, defaultTopLimit, maxTopLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scores, err := s.store.ListScores(r.Context(), pref, category, limit)
	if err != nil {
		s.fail(w, r, err, "scores not found")
		return
	}
	briefs, err := s.store.ListBriefs(r.Context(), pref, category)
	if err != nil {
		s.fail(w, r, err, "briefs not found")
		return
	}
	byName := make(map[string]radar.MunicipalityBrief, len(briefs))
	for _, b := range briefs {
		byName[b.MunicipalityName] = b
	}

	top := make([]topDTO, 0, len(scores))
	for _, sc := range scores {
		b := byName[sc.MunicipalityName]
		subs := b.TopSubsidies
		if subs == nil {
			subs = []radar.TopSubsidy{}
		}
		top = append(top, topDTO{
			MunicipalityName:    sc.MunicipalityName,
			ActiveCount:         sc.ActiveCount,
			UpcomingCount:       sc.UpcomingCount,
			NearestDeadlineDate: datePtr(sc.NearestDeadlineDate),
			Score:               sc.Score,
			BriefText:           b.BriefText,
			TopSubsidies:        subs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pref": pref, "category": category, "top": top})
}

// priorityMunicipality handles GET /v1/municipalities/priority?pref=. A
// prefecture without a pick answers with a null priority.
func (s *Server) priorityMunicipality(w http.ResponseWriter, r *http.Request) {
	pref, err := parsePref(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.store.GetPriority(r.Context(), pref)
	if errors.Is(err, radar.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"pref": pref, "priority": nil})
		return
	}
	if err != nil {
		s.fail(w, r, err, "priority not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pref": pref,
		"priority": priorityDTO{
			MunicipalityName: row.MunicipalityName,
			Score:            row.Score,
			Reason:           row.Reason,
			DetailLink:       s.detailLink(pref, row.MunicipalityName, taxonomy.All),
			ComputedAt:       row.ComputedAt,
		},
	})
}

// municipalityDetail handles GET /v1/municipalities/detail. Items come from
// the subsidy table; when none match, the representative subsidies of the
// brief are returned instead.
func (s *Server) municipalityDetail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pref, err := parsePref(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	label := strings.TrimSpace(q.Get("municipality"))
	if label == "" {
		writeError(w, http.StatusBadRequest, "missing municipality")
		return
	}
	category, err := parseCategory(q, taxonomy.All)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// ALL is the unfiltered view; no stored subsidy carries it as a category.
	filter := category
	if filter == taxonomy.All {
		filter = ""
	}
	municipality := label
	if label == radar.PrefectureWide {
		municipality = ""
	}

	rows, err := s.store.ListMunicipalitySubsidies(r.Context(), pref, municipality, filter)
	if err != nil {
		s.fail(w, r, err, "subsidies not found")
		return
	}
	items := make([]itemDTO, 0, len(rows))
	for _, it := range rows {
		items = append(items, toItemDTO(it))
	}
	if len(items) == 0 {
		items, err = s.briefItems(r, pref, label, municipality, category)
		if err != nil {
			s.fail(w, r, err, "brief not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pref":         pref,
		"municipality": label,
		"category":     category,
		"items":        items,
	})
}

func (s *Server) briefItems(r *http.Request, pref, label, municipality, category string) ([]itemDTO, error) {
	brief, err := s.store.GetBrief(r.Context(), pref, label, category)
	if errors.Is(err, radar.ErrNotFound) {
		return []itemDTO{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]itemDTO, 0, len(brief.TopSubsidies))
	for _, t := range brief.TopSubsidies {
		status := string(radar.StatusActive)
		if t.Status == string(radar.StatusUpcoming) {
			status = t.Status
		}
		items = append(items, itemDTO{
			Title:            t.Title,
			MunicipalityName: optional(municipality),
			Status:           status,
			DeadlineDate:     t.Deadline,
			SourceURL:        t.URL,
		})
	}
	return items, nil
}

// salesMessage handles GET /v1/municipalities/sales-message.
func (s *Server) salesMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pref, err := parsePref(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	municipality := strings.TrimSpace(q.Get("municipality"))
	if municipality == "" {
		writeError(w, http.StatusBadRequest, "missing municipality")
		return
	}
	category, err := parseCategory(q, taxonomy.All)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	score, err := s.store.GetScore(r.Context(), pref, municipality, category)
	if err != nil {
		s.fail(w, r, err, "municipality score not found")
		return
	}
	var top []radar.TopSubsidy
	brief, err := s.store.GetBrief(r.Context(), pref, municipality, category)
	switch {
	case err == nil:
		top = brief.TopSubsidies
	case !errors.Is(err, radar.ErrNotFound):
		s.fail(w, r, err, "brief not found")
		return
	}

	out := salesmsg.Compose(salesmsg.Input{
		PrefName:            region.NameOf(pref),
		MunicipalityName:    municipality,
		Category:            category,
		ActiveCount:         score.ActiveCount,
		UpcomingCount:       score.UpcomingCount,
		NearestDeadlineDate: radar.FormatDate(score.NearestDeadlineDate),
		TopSubsidies:        top,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"pref":          pref,
		"municipality":  municipality,
		"category":      category,
		"message_short": out.Short,
		"message_long":  out.Long,
	})
}

// listSubsidies handles GET /v1/subsidies?pref=&status=&limit=&offset=.
func (s *Server) listSubsidies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pref, err := parsePref(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(q, defaultSubsidiesLimit, maxSubsidiesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.ListSubsidies(r.Context(), radar.SubsidyFilter{PrefCode: pref, Status: status, Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, r, err, "subsidies not found")
		return
	}
	items := make([]itemDTO, 0, len(rows))
	for _, it := range rows {
		dto := toItemDTO(it)
		updated := it.UpdatedAt
		dto.UpdatedAt = &updated
		items = append(items, dto)
	}
	label := string(status)
	if label == "" {
		label = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{"pref": pref, "status": label, "items": items})
}

func (s *Server) sourcesHealth(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reporter.Sources(r.Context())
	if err != nil {
		s.fail(w, r, err, "sources not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"health": rows})
}

func (s *Server) digestHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Digest(r.Context())
	if err != nil {
		s.fail(w, r, err, "digest logs not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) detailLink(pref, municipality, category string) string {
	return fmt.Sprintf("%s/app/municipality?pref=%s&name=%s&category=%s",
		s.cfg.AppURL, escape(pref), escape(municipality), category)
}

func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

func parsePref(q url.Values) (string, error) {
	pref := strings.TrimSpace(q.Get("pref"))
	if pref == "" {
		return "", errors.New("missing pref")
	}
	if !region.IsValidCode(pref) {
		return "", errors.New("invalid pref")
	}
	return pref, nil
}

func parseCategory(q url.Values, def string) (string, error) {
	category := strings.TrimSpace(q.Get("category"))
	if category == "" {
		return def, nil
	}
	if !taxonomy.IsAllowed(category) {
		return "", errors.New("invalid category")
	}
	return category, nil
}

func parseStatus(input string) (radar.SubsidyStatus, error) {
	switch status := radar.SubsidyStatus(strings.ToLower(strings.TrimSpace(input))); status {
	case "":
		return "", nil
	case radar.StatusActive, radar.StatusUpcoming, radar.StatusExpired, radar.StatusUnknown:
		return status, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseLimitOffset(q url.Values, def, maxLimit int) (int, int, error) {
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toItemDTO(it radar.SubsidyItem) itemDTO {
	return itemDTO{
		Title:            it.Title,
		MunicipalityName: optional(it.MunicipalityName),
		Status:           string(it.Status),
		Category:         it.Category,
		DeadlineDate:     datePtr(it.DeadlineDate),
		EndDate:          datePtr(it.EndDate),
		SourceURL:        it.SourceURL,
		Summary:          optional(it.Summary),
	}
}

func datePtr(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := radar.FormatDate(d)
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
