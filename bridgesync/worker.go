package bridgesync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wavelinknet/ispbridge_backend/config"
	"github.com/wavelinknet/ispbridge_backend/models"
	"github.com/wavelinknet/ispbridge_backend/utils"
	"gorm.io/gorm"
)

const fetchPageSize = 200

// processSyncRun executes one queued sync run end to end: pull customers
// from Splynx, pull clients from UISP, then reconcile mappings. A module
// that fails is recorded and the remaining modules still run; the final
// status reflects what actually landed.
func processSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 {
		return errors.New("invalid payload")
	}

	db := config.GetDB().WithContext(ctx)

	var run models.SyncRun
	if err := db.Where("id = ?", payload.RunId).Take(&run).Error; err != nil {
		return err
	}
	ctx = utils.SetTriggeredByInContext(ctx, run.TriggeredBy)

	// Pub/Sub redelivers; a finished run is acked without reprocessing.
	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	modules := DecodeModules(run.ModulesJSON)

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}

	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	stats := map[string]int{
		"customers": 0,
		"clients":   0,
		"mappings":  0,
	}
	errorCount := 0

	if modules.Customers {
		count, recordErrors, err := syncSplynxCustomers(ctx, db, run.ID)
		errorCount += recordErrors
		if err != nil {
			errorCount++
			_ = createSyncError(ctx, db, run.ID, "customers", "", "sync_failed", err.Error(), nil, true)
		} else {
			stats["customers"] = count
		}
	}

	if modules.Clients {
		count, recordErrors, err := syncUISPClients(ctx, db, run.ID)
		errorCount += recordErrors
		if err != nil {
			errorCount++
			_ = createSyncError(ctx, db, run.ID, "clients", "", "sync_failed", err.Error(), nil, true)
		} else {
			stats["clients"] = count
		}
	}

	if modules.Reconcile {
		result, err := Reconcile(ctx)
		if err != nil {
			errorCount++
			retryable := errors.Is(err, ErrReconcileRunning)
			_ = createSyncError(ctx, db, run.ID, "mappings", "", "reconcile_failed", err.Error(), nil, retryable)
		} else {
			stats["mappings"] = result.Created + result.Updated
		}
	}

	finishedAt := time.Now()
	durationMs := finishedAt.Sub(*startedAt).Milliseconds()
	totalSynced := stats["customers"] + stats["clients"] + stats["mappings"]
	status := models.SyncRunStatusSuccess
	if errorCount > 0 && totalSynced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	return db.Model(&run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"records_synced": totalSynced,
		"error_count":    errorCount,
		"stats_json":     statsJSON,
	}).Error
}

// syncSplynxCustomers page-walks the Splynx API and ingests every customer.
// Returns records landed, per-record error count, and a fatal error when
// the walk itself cannot proceed.
func syncSplynxCustomers(ctx context.Context, db *gorm.DB, runID uint) (int, int, error) {
	client, err := newSplynxClient()
	if err != nil {
		return 0, 0, err
	}

	total := 0
	recordErrors := 0
	offset := 0

	for {
		page, err := client.listCustomers(ctx, fetchPageSize, offset)
		if err != nil {
			return total, recordErrors, err
		}

		inputs := make([]*models.NewSplynxCustomer, 0, len(page))
		for _, raw := range page {
			var cust splynxCustomerPayload
			if err := json.Unmarshal(raw, &cust); err != nil {
				recordErrors++
				_ = createSyncError(ctx, db, runID, "customer", "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			extID := strings.TrimSpace(cust.ID.String())
			if extID == "" {
				recordErrors++
				_ = createSyncError(ctx, db, runID, "customer", "", "missing_id", "customer id missing", raw, false)
				continue
			}

			inputs = append(inputs, &models.NewSplynxCustomer{
				SplynxId:    extID,
				Login:       cust.Login,
				Name:        cust.Name,
				Email:       cust.Email,
				Phone:       cust.Phone,
				Status:      cust.Status,
				BillingType: cust.BillingType,
				Category:    cust.Category,
				Street1:     cust.Street1,
				City:        cust.City,
				ZipCode:     cust.ZipCode,
				Balance:     decimalFromNumber(cust.Balance),
			})
		}

		if len(inputs) > 0 {
			result, err := models.BulkUpsertSplynxCustomers(ctx, inputs, false)
			if err != nil {
				return total, recordErrors, err
			}
			total += result.Inserted + result.Updated
		}

		if len(page) < fetchPageSize {
			return total, recordErrors, nil
		}
		offset += len(page)
	}
}

func syncUISPClients(ctx context.Context, db *gorm.DB, runID uint) (int, int, error) {
	client, err := newUISPClient()
	if err != nil {
		return 0, 0, err
	}

	total := 0
	recordErrors := 0
	offset := 0

	for {
		page, err := client.listClients(ctx, fetchPageSize, offset)
		if err != nil {
			return total, recordErrors, err
		}

		inputs := make([]*models.NewUISPClient, 0, len(page))
		for _, raw := range page {
			var payload uispClientPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				recordErrors++
				_ = createSyncError(ctx, db, runID, "client", "", "invalid_payload", err.Error(), raw, true)
				continue
			}
			extID := strings.TrimSpace(payload.ID.String())
			if extID == "" {
				recordErrors++
				_ = createSyncError(ctx, db, runID, "client", "", "missing_id", "client id missing", raw, false)
				continue
			}

			inputs = append(inputs, &models.NewUISPClient{
				UispClientId: extID,
				CustomId:     strings.TrimSpace(payload.UserIdent),
				Name:         payload.displayName(),
				Email:        strings.TrimSpace(payload.Email),
				Phone:        strings.TrimSpace(payload.Phone),
			})
		}

		if len(inputs) > 0 {
			result, err := models.BulkUpsertUISPClients(ctx, inputs, false)
			if err != nil {
				return total, recordErrors, err
			}
			total += result.Inserted + result.Updated
		}

		if len(page) < fetchPageSize {
			return total, recordErrors, nil
		}
		offset += len(page)
	}
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, entityType string, externalId string, code string, message string, payload []byte, retryable bool) error {
	errRec := models.SyncError{
		SyncRunId:   runId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}
