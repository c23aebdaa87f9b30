package bridgesync

import (
	"encoding/json"

	"github.com/wavelinknet/ispbridge_backend/models"
)

type SyncModules struct {
	Customers bool `json:"customers"`
	Clients   bool `json:"clients"`
	Reconcile bool `json:"reconcile"`
}

func DefaultModules() SyncModules {
	return SyncModules{
		Customers: true,
		Clients:   true,
		Reconcile: true,
	}
}

func DecodeModules(raw []byte) SyncModules {
	if len(raw) == 0 {
		return DefaultModules()
	}
	var mod SyncModules
	if err := json.Unmarshal(raw, &mod); err != nil {
		return DefaultModules()
	}
	return mod
}

func EncodeModules(mod SyncModules) []byte {
	b, _ := json.Marshal(mod)
	return b
}

func isEmptyModules(mod SyncModules) bool {
	return !mod.Customers && !mod.Clients && !mod.Reconcile
}

type BulkUpsertCustomersRequest struct {
	Customers   []*models.NewSplynxCustomer `json:"customers" binding:"required"`
	SkipInvalid bool                        `json:"skip_invalid"`
}

type BulkUpsertClientsRequest struct {
	Clients     []*models.NewUISPClient `json:"clients" binding:"required"`
	SkipInvalid bool                    `json:"skip_invalid"`
}

type UpsertMappingRequest struct {
	SplynxCustomerId string `json:"splynx_customer_id" binding:"required"`
	UispClientId     int    `json:"uisp_client_id" binding:"required"`
	Notes            string `json:"notes"`
}

type TriggerSyncRequest struct {
	Modules SyncModules `json:"modules"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId uint `json:"run_id"`
}
