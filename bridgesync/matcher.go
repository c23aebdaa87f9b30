package bridgesync

import (
	"context"
	"strings"

	"github.com/wavelinknet/ispbridge_backend/models"
)

// ClientIndex maps a lowercased UISP custom_id to the clients carrying it,
// in first-seen order. Building it once per pass turns the naive
// customers x clients scan into O(n+m); on colliding custom_ids the
// earliest client still wins.
type ClientIndex map[string][]*models.UISPClient

func BuildClientIndex(clients []*models.UISPClient) ClientIndex {
	index := make(ClientIndex, len(clients))
	for _, client := range clients {
		if client.CustomId == "" {
			continue
		}
		key := strings.ToLower(client.CustomId)
		index[key] = append(index[key], client)
	}
	return index
}

// MatchCustomer returns the UISP client whose custom_id equals the
// customer's login, compared case-insensitively and otherwise exactly
// (no trimming, no folding beyond case). A customer without a login is
// not matchable. Ties resolve to the first client encountered.
func MatchCustomer(customer *models.SplynxCustomer, index ClientIndex) *models.UISPClient {
	if customer == nil || customer.Login == "" {
		return nil
	}
	bucket := index[strings.ToLower(customer.Login)]
	if len(bucket) == 0 {
		return nil
	}
	return bucket[0]
}

type AutoMatch struct {
	SplynxCustomer *models.SplynxCustomer `json:"splynx_customer"`
	UispClient     *models.UISPClient     `json:"uisp_client"`
}

type AutoMatchStats struct {
	TotalSplynxCustomers int `json:"total_splynx_customers"`
	TotalUispClients     int `json:"total_uisp_clients"`
	Matched              int `json:"matched"`
	Unmatched            int `json:"unmatched"`
}

// AutoDetectMatches runs the matcher over the current snapshots without
// writing anything; it is the dry-run preview of a reconciliation pass.
func AutoDetectMatches(ctx context.Context) ([]*AutoMatch, error) {
	customers, err := models.GetAllSplynxCustomers(ctx, nil)
	if err != nil {
		return nil, err
	}
	clients, err := models.GetAllUISPClients(ctx, nil)
	if err != nil {
		return nil, err
	}

	index := BuildClientIndex(clients)
	matches := make([]*AutoMatch, 0)
	for _, customer := range customers {
		client := MatchCustomer(customer, index)
		if client == nil {
			continue
		}
		matches = append(matches, &AutoMatch{SplynxCustomer: customer, UispClient: client})
	}
	return matches, nil
}

func GetAutoMatchStats(ctx context.Context) (*AutoMatchStats, error) {
	customers, err := models.GetAllSplynxCustomers(ctx, nil)
	if err != nil {
		return nil, err
	}
	clients, err := models.GetAllUISPClients(ctx, nil)
	if err != nil {
		return nil, err
	}

	index := BuildClientIndex(clients)
	stats := AutoMatchStats{
		TotalSplynxCustomers: len(customers),
		TotalUispClients:     len(clients),
	}
	for _, customer := range customers {
		if MatchCustomer(customer, index) != nil {
			stats.Matched++
		} else {
			stats.Unmatched++
		}
	}
	return &stats, nil
}
