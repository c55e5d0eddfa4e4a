package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/auth"
	"github.com/javi11/docvault/internal/database"
)

const (
	searchLimit         = 200
	categoriesPageTitle = "Types de rapports"
)

// handleDashboard handles GET /
func (s *Server) handleDashboard(c *fiber.Ctx) error {
	cfg := s.configGetter()

	types := cfg.GetOfficialTypes()
	official := make([]OfficialType, 0, len(types))
	for _, t := range types {
		official = append(official, OfficialType{Type: t, Title: cfg.GetTypeTitle(t)})
	}

	return c.JSON(DashboardResponse{
		User:          auth.GetUser(c),
		OfficialTypes: official,
	})
}

// handleTypePage handles GET /type/:type
func (s *Server) handleTypePage(c *fiber.Ctx) error {
	docType, ok := typeParam(c)
	if !ok {
		return RespondBadRequest(c)
	}

	q := strings.TrimSpace(c.Query("q"))
	status, statusName := statusFilter(c)
	page := queryInt(c, "page", 1, 1, 0)
	perPage := queryInt(c, "per_page", defaultPerPage, minPerPage, maxPerPage)

	docs, total, err := s.docs.ListByType(c.UserContext(), database.ListFilter{
		Type:   docType,
		Query:  q,
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		return err
	}

	return c.JSON(TypePageResponse{
		ReportType:   docType,
		PageTitle:    s.configGetter().GetTypeTitle(docType),
		Reports:      ToDocumentResponses(docs),
		Page:         page,
		PerPage:      perPage,
		Total:        total,
		Q:            q,
		StatusFilter: statusName,
	})
}

// handleSearch handles GET /search
func (s *Server) handleSearch(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))

	docs, err := s.docs.Search(c.UserContext(), q, searchLimit)
	if err != nil {
		return err
	}

	return c.JSON(SearchResponse{
		Query: q,
		Hits:  ToDocumentResponses(docs),
	})
}

// handleReportCategories handles GET /report-categories
func (s *Server) handleReportCategories(c *fiber.Ctx) error {
	return c.JSON(CategoriesResponse{
		PageTitle:     categoriesPageTitle,
		OfficialTypes: s.configGetter().GetOfficialTypes(),
	})
}

// handleMarkStatus handles POST /api/mark_status
func (s *Server) handleMarkStatus(c *fiber.Ctx) error {
	var req MarkStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c)
	}

	status, ok := database.ParseStatus(strings.TrimSpace(req.Status))
	if !ok || strings.TrimSpace(req.Relpath) == "" {
		return RespondBadRequest(c)
	}

	key, err := cleanRelpath(req.Relpath)
	if err != nil {
		return RespondBadRequest(c)
	}

	if err := s.docs.RecordAction(c.UserContext(), key, auth.GetUser(c), database.StatusAction(status)); err != nil {
		return err
	}

	return RespondOK(c)
}

// handleHistory handles GET /api/history/*
func (s *Server) handleHistory(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	doc, err := s.docs.Get(c.UserContext(), key)
	if err != nil {
		return err
	}
	if doc == nil {
		return RespondNotFound(c)
	}

	events, err := s.docs.History(c.UserContext(), key, 0)
	if err != nil {
		return err
	}
	if events == nil {
		events = []database.HistoryEvent{}
	}

	resp := ToDocumentResponse(*doc)
	return c.JSON(HistoryResponse{
		Relpath:  key,
		Document: &resp,
		History:  events,
	})
}
