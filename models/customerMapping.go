package models

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wavelinknet/ispbridge_backend/config"
	"github.com/wavelinknet/ispbridge_backend/utils"
	"gorm.io/gorm"
)

// NotesAutoMatched marks mappings written by the reconciler rather than an
// operator. Existing dashboards filter on this exact string.
const NotesAutoMatched = "auto-matched"

// CustomerMapping ties one Splynx customer to one UISP client. The unique
// index on splynx_customer_id backs the at-most-one-mapping-per-customer
// invariant at the storage level; the reconciler additionally serializes
// itself behind a run-lock. Nothing constrains uisp_client_id: ambiguous
// upstream data may map several customers to the same client, and that is
// reported, not corrected.
type CustomerMapping struct {
	ID               uint      `gorm:"primary_key" json:"id"`
	SplynxCustomerId string    `gorm:"uniqueIndex;size:64;not null" json:"splynx_customer_id"`
	UispClientId     int       `gorm:"index;not null" json:"uisp_client_id"`
	Notes            string    `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type EnrichedCustomerMapping struct {
	CustomerMapping
	SplynxCustomer *SplynxCustomer `json:"splynx_customer"`
	UispClient     *UISPClient     `json:"uisp_client"`
}

type MappingStats struct {
	TotalMappings          int64 `json:"total_mappings"`
	TotalSplynxCustomers   int64 `json:"total_splynx_customers"`
	TotalUispClients       int64 `json:"total_uisp_clients"`
	UnmappedSplynxCustomers int64 `json:"unmapped_splynx_customers"`
	UnmappedUispClients     int64 `json:"unmapped_uisp_clients"`
}

// UpsertCustomerMapping is the manual override path: it creates or repoints
// a mapping regardless of what the matcher would decide.
func UpsertCustomerMapping(ctx context.Context, splynxCustomerId string, uispClientId int, notes string) (*UpsertResult, error) {
	if splynxCustomerId == "" {
		return nil, errors.New("splynx_customer_id is required")
	}
	if uispClientId <= 0 {
		return nil, errors.New("uisp_client_id must be positive")
	}

	db := config.GetDB()

	existing, err := FindCustomerMapping(ctx, db, splynxCustomerId)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
			"uisp_client_id": uispClientId,
			"notes":          notes,
		}).Error; err != nil {
			return nil, err
		}
		return &UpsertResult{ID: existing.ID, Action: UpsertActionUpdated}, nil
	}

	mapping := CustomerMapping{
		SplynxCustomerId: splynxCustomerId,
		UispClientId:     uispClientId,
		Notes:            notes,
	}
	if err := db.WithContext(ctx).Create(&mapping).Error; err != nil {
		return nil, err
	}
	return &UpsertResult{ID: mapping.ID, Action: UpsertActionInserted}, nil
}

func DeleteCustomerMapping(ctx context.Context, id uint) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Delete(&CustomerMapping{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// FindCustomerMapping looks a mapping up by the Splynx external id; a miss
// is (nil, nil), not an error.
func FindCustomerMapping(ctx context.Context, tx *gorm.DB, splynxCustomerId string) (*CustomerMapping, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	var mapping CustomerMapping
	err := tx.WithContext(ctx).Where("splynx_customer_id = ?", splynxCustomerId).Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

// GetAllSplynxCustomers loads the full customer snapshot for a
// reconciliation pass, in stable id order.
func GetAllSplynxCustomers(ctx context.Context, tx *gorm.DB) ([]*SplynxCustomer, error) {
	if tx == nil {
		tx = config.GetDB()
	}
	var results []*SplynxCustomer
	err := tx.WithContext(ctx).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetCustomerMappingsEnriched joins every mapping with the current state of
// the records it references. Cardinalities here are small (thousands), so
// the join happens in memory over three full scans rather than per-row
// queries. Dangling references come back as nils.
func GetCustomerMappingsEnriched(ctx context.Context) ([]*EnrichedCustomerMapping, error) {
	db := config.GetDB()

	var mappings []*CustomerMapping
	if err := db.WithContext(ctx).Order("id").Find(&mappings).Error; err != nil {
		return nil, err
	}

	customers, err := GetAllSplynxCustomers(ctx, db)
	if err != nil {
		return nil, err
	}
	clients, err := GetAllUISPClients(ctx, db)
	if err != nil {
		return nil, err
	}

	customersById := make(map[string]*SplynxCustomer, len(customers))
	for _, c := range customers {
		customersById[c.SplynxId] = c
	}
	clientsById := make(map[string]*UISPClient, len(clients))
	for _, c := range clients {
		clientsById[c.UispClientId] = c
	}

	enriched := make([]*EnrichedCustomerMapping, 0, len(mappings))
	for _, m := range mappings {
		enriched = append(enriched, &EnrichedCustomerMapping{
			CustomerMapping: *m,
			SplynxCustomer:  customersById[m.SplynxCustomerId],
			UispClient:      clientsById[strconv.Itoa(m.UispClientId)],
		})
	}
	return enriched, nil
}

func GetMappingStats(ctx context.Context) (*MappingStats, error) {
	db := config.GetDB()
	var stats MappingStats

	if err := db.WithContext(ctx).Model(&CustomerMapping{}).Count(&stats.TotalMappings).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&SplynxCustomer{}).Count(&stats.TotalSplynxCustomers).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&UISPClient{}).Count(&stats.TotalUispClients).Error; err != nil {
		return nil, err
	}

	var mappedCustomers int64
	if err := db.WithContext(ctx).Model(&CustomerMapping{}).
		Distinct("splynx_customer_id").Count(&mappedCustomers).Error; err != nil {
		return nil, err
	}
	var mappedClients int64
	if err := db.WithContext(ctx).Model(&CustomerMapping{}).
		Distinct("uisp_client_id").Count(&mappedClients).Error; err != nil {
		return nil, err
	}

	stats.UnmappedSplynxCustomers = stats.TotalSplynxCustomers - mappedCustomers
	stats.UnmappedUispClients = stats.TotalUispClients - mappedClients
	return &stats, nil
}
