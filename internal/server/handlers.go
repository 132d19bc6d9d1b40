package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/marketbrain/internal/booklearning"
	"github.com/mohammad-safakhou/marketbrain/internal/ingest"
	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/parser"
	"github.com/mohammad-safakhou/marketbrain/internal/retrieval"
	"github.com/mohammad-safakhou/marketbrain/internal/runtime"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
)

// Searcher runs single-query retrieval.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]retrieval.Result, error)
}

// MultiSearcher runs decomposed retrieval.
type MultiSearcher interface {
	Search(ctx context.Context, req retrieval.MultiQueryRequest) (retrieval.MultiQueryResult, error)
}

// BookStatuser reports book progress.
type BookStatuser interface {
	Status(ctx context.Context, tenantID, bookID string) (booklearning.BookStatus, error)
}

// BookSubmitter queues a book for background learning.
type BookSubmitter interface {
	Submit(job booklearning.Job) error
}

// DocumentProcessor ingests an uploaded document.
type DocumentProcessor interface {
	Process(ctx context.Context, in ingest.DocumentInput) (int, error)
}

// TrainingSummarizer produces the per-tenant technique summary.
type TrainingSummarizer interface {
	Summary(ctx context.Context, tenantID string) (string, error)
}

// KnowledgeHandler serves the /api/knowledge routes.
type KnowledgeHandler struct {
	Store          *store.Store
	Search         Searcher
	Multi          MultiSearcher
	Books          BookStatuser
	Runner         BookSubmitter
	Documents      DocumentProcessor
	Training       TrainingSummarizer
	Types          *parser.Registry
	UploadDir      string
	MaxUploadBytes int64
}

func (h *KnowledgeHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/search", h.search)
	g.POST("/search/multi", h.searchMulti)
	g.POST("/books", h.uploadBook)
	g.GET("/books", h.listBooks)
	g.GET("/books/:id/status", h.bookStatus)
	g.GET("/books/:id/concepts", h.bookConcepts)
	g.DELETE("/books/:id", h.deleteBook)
	g.POST("/documents", h.uploadDocument)
	g.DELETE("/conversations/:id/knowledge", h.deleteConversationKnowledge)
	g.GET("/training-summary", h.trainingSummary)
}

func tenantOf(c echo.Context) string {
	if t, ok := c.Get("tenant_id").(string); ok && t != "" {
		return t
	}
	t, _ := runtime.TenantFromContext(c.Request().Context())
	return t
}

// statusFor maps domain errors onto HTTP errors.
func statusFor(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, retrieval.ErrEmptyQuery), errors.Is(err, retrieval.ErrMissingTenant):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, parser.ErrUnsupportedType), errors.Is(err, parser.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Search
//
//	@Summary	Semantic search over the tenant's knowledge
//	@Tags		knowledge
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		retrieval.Request	true	"Search payload"
//	@Success	200		{object}	SearchResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/knowledge/search [post]
func (h *KnowledgeHandler) search(c echo.Context) error {
	var req retrieval.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.TenantID = tenantOf(c)
	results, err := h.Search.Search(c.Request().Context(), req)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: results})
}

// Multi-query search
//
//	@Summary	Decompose a query, search every sub-query and merge the results
//	@Tags		knowledge
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		retrieval.MultiQueryRequest	true	"Search payload"
//	@Success	200		{object}	retrieval.MultiQueryResult
//	@Router		/api/knowledge/search/multi [post]
func (h *KnowledgeHandler) searchMulti(c echo.Context) error {
	var req retrieval.MultiQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.TenantID = tenantOf(c)
	out, err := h.Multi.Search(c.Request().Context(), req)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *KnowledgeHandler) listBooks(c echo.Context) error {
	books, err := h.Store.ListLearnedBooks(c.Request().Context(), tenantOf(c))
	if err != nil {
		return statusFor(err)
	}
	if books == nil {
		books = []store.LearnedBook{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"books": books})
}

func (h *KnowledgeHandler) bookStatus(c echo.Context) error {
	st, err := h.Books.Status(c.Request().Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *KnowledgeHandler) bookConcepts(c echo.Context) error {
	ctx := c.Request().Context()
	book, err := h.Store.GetLearnedBook(ctx, tenantOf(c), c.Param("id"))
	if err != nil {
		return statusFor(err)
	}
	concepts, err := h.Store.ListBookConcepts(ctx, book.ID)
	if err != nil {
		return statusFor(err)
	}
	if concepts == nil {
		concepts = []store.BookConcept{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"book_id":        book.ID,
		"status":         book.Status,
		"global_summary": book.GlobalSummary,
		"concepts":       concepts,
	})
}

func (h *KnowledgeHandler) deleteBook(c echo.Context) error {
	if err := h.Store.DeleteLearnedBook(c.Request().Context(), tenantOf(c), c.Param("id")); err != nil {
		return statusFor(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *KnowledgeHandler) deleteConversationKnowledge(c echo.Context) error {
	n, err := h.Store.DeleteKnowledgeByConversation(c.Request().Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

func (h *KnowledgeHandler) trainingSummary(c echo.Context) error {
	s, err := h.Training.Summary(c.Request().Context(), tenantOf(c))
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": s})
}
