package controllers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/jobqueue"
	"github.com/keyshop-app/keyshop/internal/pkg/statistics"
)

const reconcileTimeout = 10 * time.Minute

// HandleAdminReconcile runs a full reconciliation pass on demand.
func HandleAdminReconcile(c *fiber.Ctx) error {
	ctx, cancel := contextWithTimeout(c, reconcileTimeout)
	defer cancel()

	stats, err := services().Reconciler.ReconcileAll(ctx)
	if err != nil {
		log.Errorf("[Admin] reconcile failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(reconcileStatsJSON(stats.Checked, stats.Marked, stats.Cleared, stats.Deleted, stats.Unknown, stats.Errors))
}

// HandleAdminReconcileOwner reconciles a single user's credentials. The
// pass runs as a queued job so a slow panel does not hold the request;
// when the queue is unreachable it runs inline instead.
func HandleAdminReconcileOwner(c *fiber.Ctx) error {
	ownerID, err := strconv.ParseInt(c.Params("userID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	job, err := jobqueue.GetManager().GetQueue().EnqueueReconcileOwner(ownerID)
	if err == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "status": job.Status})
	}
	log.Warnf("[Admin] enqueueing reconcile for owner %d failed, running inline: %v", ownerID, err)

	ctx, cancel := contextWithTimeout(c, reconcileTimeout)
	defer cancel()

	stats, err := services().Reconciler.ReconcileOwner(ctx, ownerID)
	if err != nil {
		log.Errorf("[Admin] reconcile owner %d failed: %v", ownerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(reconcileStatsJSON(stats.Checked, stats.Marked, stats.Cleared, stats.Deleted, stats.Unknown, stats.Errors))
}

// HandleAdminSweepExpired removes run-out credentials, panel side first.
func HandleAdminSweepExpired(c *fiber.Ctx) error {
	ctx, cancel := contextWithTimeout(c, reconcileTimeout)
	defer cancel()

	removed, err := services().Reconciler.SweepExpired(ctx)
	if err != nil {
		log.Errorf("[Admin] sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"removed": removed})
}

// HandleAdminStats serves the dashboard aggregates and the latest
// completed payments.
func HandleAdminStats(c *fiber.Ctx) error {
	recent, err := repository.GetGlobalRepositories().Transaction.ListRecent(10)
	if err != nil {
		log.Errorf("[Admin] recent transactions failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{
		"totals":              statistics.GetShopStats(),
		"recent_transactions": recent,
	})
}

type settingUpdateRequest struct {
	Value string `json:"value"`
}

// HandleAdminGetSetting reads one operator setting.
func HandleAdminGetSetting(c *fiber.Ctx) error {
	key := c.Params("key")
	value, err := repository.GetGlobalRepositories().Setting.GetValue(key)
	if err != nil {
		log.Errorf("[Admin] reading setting %s failed: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"key": key, "value": value})
}

// HandleAdminSetSetting writes one operator setting and drops the cached
// snapshot so the next fulfillment run sees the new value.
func HandleAdminSetSetting(c *fiber.Ctx) error {
	var req settingUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed setting payload"})
	}
	key := c.Params("key")
	if err := services().Settings.Set(key, req.Value); err != nil {
		log.Errorf("[Admin] writing setting %s failed: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"key": key, "value": req.Value})
}

// HandleAdminJobStats reports queue depth and per-status job counts.
func HandleAdminJobStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()
	stats, err := queue.GetJobStats(c.Context())
	if err != nil {
		log.Errorf("[Admin] job stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	pending, _ := queue.GetQueueSize(c.Context())
	processing, _ := queue.GetProcessingSize(c.Context())
	return c.JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
		"by_status":  stats,
	})
}

func reconcileStatsJSON(checked, marked, cleared, deleted, unknown, errs int) fiber.Map {
	return fiber.Map{
		"checked": checked,
		"marked":  marked,
		"cleared": cleared,
		"deleted": deleted,
		"unknown": unknown,
		"errors":  errs,
	}
}
