package server

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/marketbrain/internal/booklearning"
	"github.com/mohammad-safakhou/marketbrain/internal/ingest"
	"github.com/mohammad-safakhou/marketbrain/internal/parser"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
)

const defaultMaxUpload = 50 << 20

// acceptUpload validates the multipart "file" field and copies it into the
// upload directory. The caller owns the returned path.
func (h *KnowledgeHandler) acceptUpload(c echo.Context) (*multipart.FileHeader, string, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "file required")
	}
	types := h.Types
	if types == nil {
		types = parser.New()
	}
	ft := parser.NormalizeType(filepath.Ext(fh.Filename))
	if !types.Supported(ft) {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q (supported: %s)", ft, strings.Join(types.Types(), ", ")))
	}
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	if fh.Size <= 0 {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "file is empty")
	}
	if fh.Size > limit {
		return nil, "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", limit))
	}
	path, err := h.saveUpload(fh, ft, limit)
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return fh, ft, path, nil
}

func (h *KnowledgeHandler) saveUpload(fh *multipart.FileHeader, ft string, limit int64) (string, error) {
	dir := h.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst, err := os.CreateTemp(dir, "upload-*"+ft)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, limit)); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// Upload book
//
//	@Summary	Upload a book for background concept learning
//	@Tags		knowledge
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file	formData	file	true	"Book file (.pdf, .txt, .docx, .md, .html)"
//	@Param		title	formData	string	false	"Title, defaults to the file name"
//	@Param		author	formData	string	false	"Author"
//	@Success	202		{object}	store.LearnedBook
//	@Failure	400		{object}	HTTPError
//	@Failure	413		{object}	HTTPError
//	@Router		/api/knowledge/books [post]
func (h *KnowledgeHandler) uploadBook(c echo.Context) error {
	fh, ft, path, err := h.acceptUpload(c)
	if err != nil {
		return err
	}
	tenant := tenantOf(c)
	title := strings.TrimSpace(c.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}
	author := strings.TrimSpace(c.FormValue("author"))

	ctx := c.Request().Context()
	book, err := h.Store.CreateLearnedBook(ctx, store.LearnedBook{
		TenantID: tenant,
		Title:    title,
		Author:   author,
		FilePath: path,
		FileType: ft,
	})
	if err != nil {
		os.Remove(path)
		return statusFor(err)
	}
	job := booklearning.Job{
		Input: booklearning.BookInput{
			BookID:   book.ID,
			TenantID: tenant,
			Title:    title,
			Author:   author,
			FilePath: path,
			FileType: ft,
		},
		RemoveFile: true,
	}
	if err := h.Runner.Submit(job); err != nil {
		if ferr := h.Store.FailBook(ctx, book.ID, err.Error()); ferr != nil {
			log.Printf("fail book %s: %v", book.ID, ferr)
		}
		os.Remove(path)
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, book)
}

// Upload document
//
//	@Summary	Upload a document into a conversation's knowledge
//	@Tags		knowledge
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file			formData	file	true	"Document file"
//	@Param		conversation_id	formData	string	false	"Conversation scope"
//	@Success	201				{object}	store.Document
//	@Router		/api/knowledge/documents [post]
func (h *KnowledgeHandler) uploadDocument(c echo.Context) error {
	fh, ft, path, err := h.acceptUpload(c)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	tenant := tenantOf(c)
	conversation := strings.TrimSpace(c.FormValue("conversation_id"))

	ctx := c.Request().Context()
	doc, err := h.Store.CreateDocument(ctx, store.Document{
		TenantID:       tenant,
		ConversationID: conversation,
		Filename:       filepath.Base(fh.Filename),
		FileType:       ft,
		FileSize:       fh.Size,
	})
	if err != nil {
		return statusFor(err)
	}
	n, err := h.Documents.Process(ctx, ingest.DocumentInput{
		DocumentID:     doc.ID,
		TenantID:       tenant,
		ConversationID: conversation,
		Path:           path,
		FileType:       ft,
		Title:          doc.Filename,
	})
	if err != nil {
		return statusFor(err)
	}
	doc.Status = store.DocumentStatusProcessed
	doc.ChunkCount = n
	return c.JSON(http.StatusCreated, doc)
}
