package bridgesync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wavelinknet/ispbridge_backend/config"
	"github.com/wavelinknet/ispbridge_backend/models"
	"github.com/wavelinknet/ispbridge_backend/utils"
	"gorm.io/gorm"
)

// ErrReconcileRunning is returned when another reconciliation pass holds
// the run-lock.
var ErrReconcileRunning = errors.New("reconcile is already running")

const reconcileLockName = "reconcile"

// reconcileLockTTL bounds a stuck pass; a full pass over a few thousand
// records finishes in seconds.
const reconcileLockTTL = 5 * time.Minute

type ReconcileResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Reconcile re-evaluates every Splynx customer against the current UISP
// snapshot and creates, repoints or confirms its mapping.
//
// The whole pass is one transaction over snapshots read at the start, and
// only one pass runs at a time: mapping uniqueness rests on read-then-write
// logic, so concurrent passes must be excluded, not merely discouraged.
// Bad per-record data (no login, no match, non-numeric uisp id) lands in
// Skipped and never aborts the pass.
func Reconcile(ctx context.Context) (*ReconcileResult, error) {
	lock, err := utils.ObtainRunLock(ctx, reconcileLockName, reconcileLockTTL, "bridgesync", "Reconcile")
	if err != nil {
		if errors.Is(err, utils.ErrLockNotObtained) {
			triggeredBy, _ := utils.GetTriggeredByFromContext(ctx)
			config.GetLogger().WithFields(logrus.Fields{
				"field":        "Reconcile",
				"triggered_by": triggeredBy,
			}).Warn("reconcile pass already in progress")
			return nil, ErrReconcileRunning
		}
		return nil, err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	db := config.GetDB()
	tx := db.Begin()

	result, err := reconcileTx(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return result, nil
}

func reconcileTx(ctx context.Context, tx *gorm.DB) (*ReconcileResult, error) {
	customers, err := models.GetAllSplynxCustomers(ctx, tx)
	if err != nil {
		return nil, err
	}
	clients, err := models.GetAllUISPClients(ctx, tx)
	if err != nil {
		return nil, err
	}
	index := BuildClientIndex(clients)

	var result ReconcileResult
	for _, customer := range customers {
		outcome, err := reconcileCustomer(ctx, tx, customer, index)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case models.UpsertActionInserted:
			result.Created++
		case models.UpsertActionUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	// Every customer lands in exactly one bucket.
	result.Total = result.Created + result.Updated + result.Skipped
	return &result, nil
}

const outcomeSkipped = "skipped"

func reconcileCustomer(ctx context.Context, tx *gorm.DB, customer *models.SplynxCustomer, index ClientIndex) (string, error) {
	if customer.Login == "" {
		return outcomeSkipped, nil
	}

	client := MatchCustomer(customer, index)
	if client == nil {
		return outcomeSkipped, nil
	}

	// Malformed upstream ids are expected; they skip, never abort.
	uispClientId, err := strconv.Atoi(client.UispClientId)
	if err != nil {
		return outcomeSkipped, nil
	}

	existing, err := models.FindCustomerMapping(ctx, tx, customer.SplynxId)
	if err != nil {
		return "", err
	}

	if existing == nil {
		mapping := models.CustomerMapping{
			SplynxCustomerId: customer.SplynxId,
			UispClientId:     uispClientId,
			Notes:            models.NotesAutoMatched,
		}
		if err := tx.WithContext(ctx).Create(&mapping).Error; err != nil {
			return "", err
		}
		return models.UpsertActionInserted, nil
	}

	if existing.UispClientId == uispClientId {
		// Already correct; no write.
		return outcomeSkipped, nil
	}

	if err := tx.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
		"uisp_client_id": uispClientId,
		"notes":          models.NotesAutoMatched,
	}).Error; err != nil {
		return "", err
	}
	return models.UpsertActionUpdated, nil
}
