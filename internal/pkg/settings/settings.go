package settings

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/cache"
)

// Referral reward schemes.
const (
	RewardPercent       = "percent"
	RewardFixedPurchase = "fixed_purchase"
	RewardFixedStart    = "fixed_start"
)

const (
	cacheKey = "keyshop:settings:snapshot"
	cacheTTL = 30 * time.Second
)

// Snapshot is an immutable view of the operator settings, taken once per
// fulfillment run so a single run never observes a mid-flight change.
type Snapshot struct {
	ReferralsEnabled    bool
	ReferralRewardType  string
	ReferralPercent     decimal.Decimal
	ReferralFixedAmount decimal.Decimal
	ReferralStartAmount decimal.Decimal

	TrialEnabled       bool
	TrialDurationDays  int
	TrialTrafficGB     int
	TrialDeviceLimit   int
	FranchisePercent   decimal.Decimal
	Currency           string
	AdminTelegramIDs   []int64
	TelegramBotToken   string
	CryptoBotToken     string
	YooMoneySecret     string
	YooKassaShopID     string
	YooKassaSecretKey  string
	ReconcileInterval  time.Duration
}

// Store loads snapshots from the settings repository with a short-lived
// cache in front so webhook bursts do not hammer the table.
type Store struct {
	repo repository.SettingRepository
}

// NewStore creates a settings store.
func NewStore(repo repository.SettingRepository) *Store {
	return &Store{repo: repo}
}

// Snapshot returns the current settings as one immutable value.
func (s *Store) Snapshot() (*Snapshot, error) {
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var all map[string]string
		if err := json.Unmarshal([]byte(cached), &all); err == nil {
			return fromMap(all), nil
		}
	}

	all, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(all); err == nil {
		if err := cache.Set(cacheKey, string(raw), cacheTTL); err != nil {
			log.Warnf("[Settings] cache write failed: %v", err)
		}
	}
	return fromMap(all), nil
}

// Invalidate drops the cached snapshot; call after an operator edit.
func (s *Store) Invalidate() {
	if err := cache.Delete(cacheKey); err != nil {
		log.Warnf("[Settings] cache invalidation failed: %v", err)
	}
}

// Set writes one setting and invalidates the snapshot cache.
func (s *Store) Set(key, value string) error {
	if err := s.repo.SetValue(key, value); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func fromMap(all map[string]string) *Snapshot {
	snap := &Snapshot{
		ReferralsEnabled:    parseBool(all[models.SettingReferralsEnabled], true),
		ReferralRewardType:  defaultString(all[models.SettingReferralRewardType], RewardPercent),
		ReferralPercent:     parseDecimal(all[models.SettingReferralPercent], decimal.NewFromInt(10)),
		ReferralFixedAmount: parseDecimal(all[models.SettingReferralFixedAmount], decimal.Zero),
		ReferralStartAmount: parseDecimal(all[models.SettingReferralStartAmount], decimal.Zero),
		TrialEnabled:        parseBool(all[models.SettingTrialEnabled], false),
		TrialDurationDays:   parseInt(all[models.SettingTrialDurationDays], 3),
		TrialTrafficGB:      parseInt(all[models.SettingTrialTrafficLimitGB], 0),
		TrialDeviceLimit:    parseInt(all[models.SettingTrialDeviceLimit], 0),
		FranchisePercent:    parseDecimal(all[models.SettingFranchisePercent], decimal.NewFromInt(10)),
		Currency:            defaultString(all[models.SettingReceiptCurrency], "RUB"),
		TelegramBotToken:    all[models.SettingTelegramBotToken],
		CryptoBotToken:      all[models.SettingCryptoBotToken],
		YooMoneySecret:      all[models.SettingYooMoneySecret],
		YooKassaShopID:      all[models.SettingYooKassaShopID],
		YooKassaSecretKey:   all[models.SettingYooKassaSecretKey],
		ReconcileInterval:   time.Duration(parseInt(all[models.SettingReconcileIntervalHours], 6)) * time.Hour,
	}
	for _, part := range strings.Split(all[models.SettingAdminTelegramIDs], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			snap.AdminTelegramIDs = append(snap.AdminTelegramIDs, id)
		}
	}
	return snap
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func parseInt(raw string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return v
	}
	return def
}

func parseDecimal(raw string, def decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return v
	}
	return def
}

func defaultString(raw, def string) string {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	return raw
}
