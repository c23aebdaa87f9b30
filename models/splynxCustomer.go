package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wavelinknet/ispbridge_backend/config"
	"gorm.io/gorm"
)

const (
	CustomerStatusActive   = "active"
	CustomerStatusInactive = "inactive"
	CustomerStatusUnknown  = "unknown"
)

const (
	UpsertActionInserted = "inserted"
	UpsertActionUpdated  = "updated"
)

// SplynxCustomer is the local copy of a billing-side customer record.
// splynx_id is the immutable external key; every ingest of the same id
// rewrites the attribute fields in place.
type SplynxCustomer struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	SplynxId    string          `gorm:"uniqueIndex;size:64;not null" json:"splynx_id"`
	Login       string          `gorm:"index;size:100" json:"login"`
	Name        string          `gorm:"size:255" json:"name"`
	Email       string          `gorm:"size:100" json:"email"`
	Phone       string          `gorm:"size:20" json:"phone"`
	Status      string          `gorm:"size:20;not null;default:'unknown'" json:"status"`
	BillingType string          `gorm:"size:50" json:"billing_type"`
	Category    string          `gorm:"size:50" json:"category"`
	Street1     string          `gorm:"size:255" json:"street_1"`
	City        string          `gorm:"size:100" json:"city"`
	ZipCode     string          `gorm:"size:20" json:"zip_code"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	SyncedAt    time.Time       `json:"synced_at"`
}

type NewSplynxCustomer struct {
	SplynxId    string          `json:"splynx_id" binding:"required"`
	Login       string          `json:"login"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Status      string          `json:"status"`
	BillingType string          `json:"billing_type"`
	Category    string          `json:"category"`
	Street1     string          `json:"street_1"`
	City        string          `json:"city"`
	ZipCode     string          `json:"zip_code"`
	Balance     decimal.Decimal `json:"balance"`
}

type UpsertResult struct {
	ID     uint   `json:"id"`
	Action string `json:"action"`
}

type BulkUpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

type SplynxCustomerStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

const splynxCustomerStatsCacheKey = "SplynxCustomerStats"

func NormalizeCustomerStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case CustomerStatusActive:
		return CustomerStatusActive
	case CustomerStatusInactive:
		return CustomerStatusInactive
	default:
		return CustomerStatusUnknown
	}
}

// UpsertSplynxCustomer inserts or fully overwrites one customer by splynx_id.
// Incoming fields replace the stored ones even when empty: a partial payload
// clears attributes that a previous ingest had set.
func UpsertSplynxCustomer(ctx context.Context, input *NewSplynxCustomer) (*UpsertResult, error) {
	if strings.TrimSpace(input.SplynxId) == "" {
		return nil, errors.New("splynx_id is required")
	}

	db := config.GetDB()
	tx := db.Begin()
	result, err := upsertSplynxCustomerTx(ctx, tx, input)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	_ = config.RemoveRedisKey(splynxCustomerStatsCacheKey)
	return result, nil
}

// BulkUpsertSplynxCustomers merges an ordered batch in a single transaction.
// A record without splynx_id aborts and rolls back the whole batch unless
// skipInvalid is set, in which case it is counted under Skipped and the
// batch continues.
func BulkUpsertSplynxCustomers(ctx context.Context, inputs []*NewSplynxCustomer, skipInvalid bool) (*BulkUpsertResult, error) {
	db := config.GetDB()
	tx := db.Begin()

	counts := BulkUpsertResult{Total: len(inputs)}
	for i, input := range inputs {
		if input == nil || strings.TrimSpace(input.SplynxId) == "" {
			if skipInvalid {
				counts.Skipped++
				continue
			}
			tx.Rollback()
			return nil, fmt.Errorf("customer at index %d: splynx_id is required", i)
		}

		result, err := upsertSplynxCustomerTx(ctx, tx, input)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("customer %s: %w", input.SplynxId, err)
		}
		switch result.Action {
		case UpsertActionInserted:
			counts.Inserted++
		case UpsertActionUpdated:
			counts.Updated++
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	_ = config.RemoveRedisKey(splynxCustomerStatsCacheKey)
	return &counts, nil
}

func upsertSplynxCustomerTx(ctx context.Context, tx *gorm.DB, input *NewSplynxCustomer) (*UpsertResult, error) {
	now := time.Now()

	var existing SplynxCustomer
	err := tx.WithContext(ctx).Where("splynx_id = ?", input.SplynxId).Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err == nil {
		// Map-based Updates so zero values are written too: absent incoming
		// fields blank out previously stored ones.
		if err := tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"login":        input.Login,
			"name":         input.Name,
			"email":        input.Email,
			"phone":        input.Phone,
			"status":       NormalizeCustomerStatus(input.Status),
			"billing_type": input.BillingType,
			"category":     input.Category,
			"street_1":     input.Street1,
			"city":         input.City,
			"zip_code":     input.ZipCode,
			"balance":      input.Balance,
			"synced_at":    now,
		}).Error; err != nil {
			return nil, err
		}
		return &UpsertResult{ID: existing.ID, Action: UpsertActionUpdated}, nil
	}

	customer := SplynxCustomer{
		SplynxId:    input.SplynxId,
		Login:       input.Login,
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		Status:      NormalizeCustomerStatus(input.Status),
		BillingType: input.BillingType,
		Category:    input.Category,
		Street1:     input.Street1,
		City:        input.City,
		ZipCode:     input.ZipCode,
		Balance:     input.Balance,
		SyncedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &UpsertResult{ID: customer.ID, Action: UpsertActionInserted}, nil
}

// GetSplynxCustomers returns a page of customers, most recent first.
func GetSplynxCustomers(ctx context.Context, limit int, offset int) ([]*SplynxCustomer, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	db := config.GetDB()
	var results []*SplynxCustomer
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetSplynxCustomerById(ctx context.Context, splynxId string) (*SplynxCustomer, error) {
	db := config.GetDB()
	var customer SplynxCustomer
	err := db.WithContext(ctx).Where("splynx_id = ?", splynxId).Take(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func GetSplynxCustomerByLogin(ctx context.Context, login string) (*SplynxCustomer, error) {
	db := config.GetDB()
	var customer SplynxCustomer
	err := db.WithContext(ctx).Where("login = ?", login).Take(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// SearchSplynxCustomers does a case-insensitive substring match over
// name, email, login and splynx_id.
func SearchSplynxCustomers(ctx context.Context, term string) ([]*SplynxCustomer, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*SplynxCustomer{}, nil
	}

	db := config.GetDB()
	pattern := "%" + term + "%"
	var results []*SplynxCustomer
	err := db.WithContext(ctx).
		Where("name LIKE ? OR email LIKE ? OR login LIKE ? OR splynx_id LIKE ?",
			pattern, pattern, pattern, pattern).
		Order("created_at desc, id desc").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetSplynxCustomerStats counts customers by status. The redis cache is
// short-lived and deleted on every customer write, so reads after a write
// always see fresh counts.
func GetSplynxCustomerStats(ctx context.Context) (*SplynxCustomerStats, error) {
	var cached SplynxCustomerStats
	if ok, err := config.GetRedisObject(splynxCustomerStatsCacheKey, &cached); err == nil && ok {
		return &cached, nil
	}

	db := config.GetDB()
	var stats SplynxCustomerStats

	if err := db.WithContext(ctx).Model(&SplynxCustomer{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&SplynxCustomer{}).
		Where("status = ?", CustomerStatusActive).Count(&stats.Active).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&SplynxCustomer{}).
		Where("status = ?", CustomerStatusInactive).Count(&stats.Inactive).Error; err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(splynxCustomerStatsCacheKey, &stats, 60*time.Second)
	return &stats, nil
}
