package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/upkeep/internal/globaltime"
	"horse.fit/upkeep/internal/ingest"
	"horse.fit/upkeep/internal/merge"
	"horse.fit/upkeep/internal/mergelock"
	"horse.fit/upkeep/internal/urlcheck"
)

const (
	defaultBatchListLimit = 50
	maxBatchListLimit     = 500
)

type mergeRequest struct {
	BatchIDs    []int64 `json:"batchIds"`
	PreviewOnly bool    `json:"previewOnly"`
}

type mergeStats struct {
	TotalItems              int  `json:"totalItems"`
	DuplicatesWithinBatches int  `json:"duplicatesWithinBatches"`
	AlreadyAccepted         int  `json:"alreadyAccepted"`
	AlreadyRejected         int  `json:"alreadyRejected"`
	FinalUniqueItems        int  `json:"finalUniqueItems"`
	ItemsRemoved            *int `json:"itemsRemoved,omitempty"`
}

type mergePreviewResponse struct {
	Preview bool       `json:"preview"`
	Stats   mergeStats `json:"stats"`
}

type mergedBatch struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TotalItems int    `json:"totalItems"`
}

type mergeExecuteResponse struct {
	Success     bool        `json:"success"`
	MergedBatch mergedBatch `json:"mergedBatch"`
	Stats       mergeStats  `json:"stats"`
}

type batchListItem struct {
	ID           int64     `json:"id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	TotalItems   int       `json:"totalItems"`
	PendingItems int       `json:"pendingItems"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ingestResponse struct {
	Batch   mergedBatch `json:"batch"`
	ItemIDs []int64     `json:"itemIds"`
}

func statsFromResult(result merge.Result) mergeStats {
	return mergeStats{
		TotalItems:              result.TotalItems,
		DuplicatesWithinBatches: result.DuplicatesWithinBatches,
		AlreadyAccepted:         result.AlreadyAccepted,
		AlreadyRejected:         result.AlreadyRejected,
		FinalUniqueItems:        result.FinalUniqueItems,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health database ping failed")
			return fail(c, http.StatusServiceUnavailable, "database unavailable")
		}
	}
	return success(c, map[string]any{
		"service": "upkeep",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleMerge(c echo.Context) error {
	var req mergeRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failBadRequest(c, err.Error())
	}
	if len(req.BatchIDs) < 2 {
		return failBadRequest(c, merge.ErrInvalidArgument.Error())
	}

	ctx := c.Request().Context()
	if req.PreviewOnly {
		result, err := s.deps.Merger.Preview(ctx, req.BatchIDs)
		if err != nil {
			return s.mergeError(c, err)
		}
		return success(c, mergePreviewResponse{
			Preview: true,
			Stats:   statsFromResult(result),
		})
	}

	out, err := s.deps.Merger.Execute(ctx, req.BatchIDs)
	if err != nil {
		return s.mergeError(c, err)
	}
	stats := statsFromResult(out.Result)
	removed := out.ItemsRemoved
	stats.ItemsRemoved = &removed
	return success(c, mergeExecuteResponse{
		Success: true,
		MergedBatch: mergedBatch{
			ID:         out.Batch.ID,
			Name:       out.Batch.Name,
			TotalItems: out.Batch.TotalItems,
		},
		Stats: stats,
	})
}

func (s *Server) mergeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, merge.ErrInvalidArgument):
		return failBadRequest(c, merge.ErrInvalidArgument.Error())
	case errors.Is(err, mergelock.ErrBusy):
		return fail(c, http.StatusConflict, mergelock.ErrBusy.Error())
	default:
		s.logger.Error().Err(err).Msg("merge request failed")
		return internalError(c, "Failed to merge batches")
	}
}

func (s *Server) handleListBatches(c echo.Context) error {
	limit := defaultBatchListLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return failBadRequest(c, "limit must be a positive integer")
		}
		limit = min(parsed, maxBatchListLimit)
	}
	status := strings.ToLower(strings.TrimSpace(c.QueryParam("status")))

	rows, err := s.deps.Batches.ListBatches(c.Request().Context(), status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list batches failed")
		return internalError(c, "Failed to load batches")
	}

	items := make([]batchListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, batchListItem{
			ID:           row.ID,
			UUID:         row.BatchUUID,
			Name:         row.Name,
			Source:       row.Source,
			Status:       row.Status,
			TotalItems:   row.TotalItems,
			PendingItems: row.PendingItems,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleIngest(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failBadRequest(c, "failed to read request body")
	}

	result, err := s.deps.Ingester.IngestPayload(c.Request().Context(), payload)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidPayload) {
			return failBadRequest(c, err.Error())
		}
		s.logger.Error().Err(err).Msg("ingest request failed")
		return internalError(c, "Failed to ingest batch")
	}

	return successWithStatus(c, http.StatusCreated, ingestResponse{
		Batch: mergedBatch{
			ID:         result.Batch.ID,
			Name:       result.Batch.Name,
			TotalItems: result.Batch.TotalItems,
		},
		ItemIDs: result.ItemIDs,
	})
}

func (s *Server) handleContentCheck(c echo.Context) error {
	var req urlcheck.Request
	if err := decodeJSONBody(c, &req); err != nil {
		return failBadRequest(c, err.Error())
	}

	report, err := s.deps.Checker.Check(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, urlcheck.ErrInvalidURL) {
			return failBadRequest(c, err.Error())
		}
		s.logger.Error().Err(err).Str("url", req.URL).Msg("content check failed")
		return internalError(c, "Failed to check content")
	}
	return success(c, report)
}
