package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/pkg/logger"
)

type MemoCache interface {
	CacheLen() int
	ClearCache()
}

type RemoteInvalidator interface {
	InvalidateQueries(ctx context.Context) (int, error)
}

// CacheHandler inspects and drops memoized query results. Results are
// otherwise kept until they expire, so a changed table needs an explicit
// clear.
type CacheHandler struct {
	memo   MemoCache
	remote RemoteInvalidator
}

func NewCacheHandler(memo MemoCache, remote RemoteInvalidator) *CacheHandler {
	return &CacheHandler{
		memo:   memo,
		remote: remote,
	}
}

func (h *CacheHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"entries":      h.memo.CacheLen(),
		"remote_cache": h.remote != nil,
	})
}

func (h *CacheHandler) Clear(c *fiber.Ctx) error {
	cleared := h.memo.CacheLen()
	h.memo.ClearCache()

	remoteDeleted := 0
	if h.remote != nil {
		n, err := h.remote.InvalidateQueries(c.UserContext())
		if err != nil {
			logger.Error("Failed to invalidate remote query cache", zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   "Failed to invalidate remote query cache",
				"cleared": cleared,
			})
		}
		remoteDeleted = n
	}

	logger.Info("Query cache cleared", zap.Int("local", cleared), zap.Int("remote", remoteDeleted))
	return c.JSON(fiber.Map{
		"cleared":        cleared,
		"remote_deleted": remoteDeleted,
	})
}
