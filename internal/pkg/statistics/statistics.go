package statistics

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/internal/pkg/cache"
	"github.com/keyshop-app/keyshop/internal/pkg/database"
)

const (
	CacheKeyUsers         = "statistics:users:total"
	CacheKeyKeysActive    = "statistics:keys:active"
	CacheKeyPaymentsDaily = "statistics:payments:daily:%s" // Format with date YYYY-MM-DD
	CacheExpiration       = 30 * time.Minute
)

// ShopStats holds the aggregate figures shown on the admin dashboard.
type ShopStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveKeys    int `json:"active_keys"`
	TodayPayments int `json:"today_payments"`
}

// GetTotalUsers returns the total number of users from cache or database
func GetTotalUsers() int {
	return cachedCount(CacheKeyUsers, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.User{}).Count(&count).Error
		return count, err
	})
}

// GetActiveKeys returns the number of unexpired credentials from cache or database
func GetActiveKeys() int {
	return cachedCount(CacheKeyKeysActive, func() (int64, error) {
		var count int64
		err := database.GetDB().Model(&models.Credential{}).
			Where("expires_at > ?", time.Now()).Count(&count).Error
		return count, err
	})
}

// GetTodayPayments returns the number of payments completed today from cache or database
func GetTodayPayments() int {
	today := time.Now().Format("2006-01-02")
	key := fmt.Sprintf(CacheKeyPaymentsDaily, today)
	return cachedCount(key, func() (int64, error) {
		todayStart, _ := time.Parse("2006-01-02", today)
		todayEnd := todayStart.Add(24 * time.Hour)
		var count int64
		err := database.GetDB().Model(&models.PendingTransaction{}).
			Where("status = ? AND updated_at BETWEEN ? AND ?", models.PendingStatusPaid, todayStart, todayEnd).
			Count(&count).Error
		return count, err
	})
}

// cachedCount serves a counter from Redis, falling back to the database and
// repopulating the cache on a miss.
func cachedCount(key string, query func() (int64, error)) int {
	val, err := cache.Get(key)
	if err == nil {
		count, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return int(count)
		}
	}

	count, err := query()
	if err != nil {
		log.Printf("Error counting for %s: %v", key, err)
		return 0
	}
	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Printf("Error caching %s: %v", key, err)
	}
	return int(count)
}

// GetShopStats returns all dashboard statistics
func GetShopStats() ShopStats {
	return ShopStats{
		TotalUsers:    GetTotalUsers(),
		ActiveKeys:    GetActiveKeys(),
		TodayPayments: GetTodayPayments(),
	}
}
