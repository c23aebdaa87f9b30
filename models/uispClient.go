package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wavelinknet/ispbridge_backend/config"
	"gorm.io/gorm"
)

// UISPClient is the local snapshot of a network-side client record.
// uisp_client_id is numeric upstream but stored as a string so matching
// never depends on its width; custom_id is the operator-assigned key the
// matcher compares against the Splynx login.
type UISPClient struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	UispClientId string    `gorm:"uniqueIndex;size:64;not null" json:"uisp_client_id"`
	CustomId     string    `gorm:"index;size:100" json:"custom_id"`
	Name         string    `gorm:"size:255" json:"name"`
	Email        string    `gorm:"size:100" json:"email"`
	Phone        string    `gorm:"size:20" json:"phone"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	SyncedAt     time.Time `json:"synced_at"`
}

type NewUISPClient struct {
	UispClientId string `json:"uisp_client_id" binding:"required"`
	CustomId     string `json:"custom_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// BulkUpsertUISPClients mirrors the Splynx bulk ingest for the network side:
// one transaction, fail-fast on a missing external id, overwrite-all fields.
func BulkUpsertUISPClients(ctx context.Context, inputs []*NewUISPClient, skipInvalid bool) (*BulkUpsertResult, error) {
	db := config.GetDB()
	tx := db.Begin()

	counts := BulkUpsertResult{Total: len(inputs)}
	for i, input := range inputs {
		if input == nil || strings.TrimSpace(input.UispClientId) == "" {
			if skipInvalid {
				counts.Skipped++
				continue
			}
			tx.Rollback()
			return nil, fmt.Errorf("client at index %d: uisp_client_id is required", i)
		}

		action, err := upsertUISPClientTx(ctx, tx, input)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("client %s: %w", input.UispClientId, err)
		}
		switch action {
		case UpsertActionInserted:
			counts.Inserted++
		case UpsertActionUpdated:
			counts.Updated++
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &counts, nil
}

func upsertUISPClientTx(ctx context.Context, tx *gorm.DB, input *NewUISPClient) (string, error) {
	now := time.Now()

	var existing UISPClient
	err := tx.WithContext(ctx).Where("uisp_client_id = ?", input.UispClientId).Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	if err == nil {
		if err := tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"custom_id": input.CustomId,
			"name":      input.Name,
			"email":     input.Email,
			"phone":     input.Phone,
			"synced_at": now,
		}).Error; err != nil {
			return "", err
		}
		return UpsertActionUpdated, nil
	}

	client := UISPClient{
		UispClientId: input.UispClientId,
		CustomId:     input.CustomId,
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		SyncedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(&client).Error; err != nil {
		return "", err
	}
	return UpsertActionInserted, nil
}

func GetUISPClients(ctx context.Context, limit int, offset int) ([]*UISPClient, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	db := config.GetDB()
	var results []*UISPClient
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

// GetAllUISPClients loads the full snapshot for a matching pass.
func GetAllUISPClients(ctx context.Context, tx *gorm.DB) ([]*UISPClient, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	var results []*UISPClient
	err := tx.WithContext(ctx).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetUISPClientById(ctx context.Context, uispClientId string) (*UISPClient, error) {
	db := config.GetDB()
	var client UISPClient
	err := db.WithContext(ctx).Where("uisp_client_id = ?", uispClientId).Take(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}
