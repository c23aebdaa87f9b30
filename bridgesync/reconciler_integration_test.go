package bridgesync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/wavelinknet/ispbridge_backend/bridgesync"
	"github.com/wavelinknet/ispbridge_backend/config"
	"github.com/wavelinknet/ispbridge_backend/models"
)

func TestReconcileCreatesRepointsAndSkips(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	setupIntegrationDeps(t)

	customers := []*models.NewSplynxCustomer{
		{SplynxId: "S1", Login: "alice", Name: "Alice", Status: "active"},
		{SplynxId: "S2", Login: "", Name: "No Login", Status: "active"},
		{SplynxId: "S3", Login: "ghost", Name: "No Match", Status: "active"},
		{SplynxId: "S4", Login: "badid", Name: "Bad Client Id", Status: "active"},
	}
	if _, err := models.BulkUpsertSplynxCustomers(ctx, customers, false); err != nil {
		t.Fatalf("seed customers: %v", err)
	}

	clients := []*models.NewUISPClient{
		{UispClientId: "42", CustomId: "ALICE", Name: "Alice Networks"},
		{UispClientId: "notanumber", CustomId: "badid", Name: "Broken Upstream Id"},
	}
	if _, err := models.BulkUpsertUISPClients(ctx, clients, false); err != nil {
		t.Fatalf("seed clients: %v", err)
	}

	// First pass: alice matches case-insensitively and gets a mapping; the
	// other three are skipped for their respective reasons.
	result, err := bridgesync.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Created != 1 || result.Updated != 0 || result.Skipped != 3 {
		t.Fatalf("expected created=1 updated=0 skipped=3; got %+v", result)
	}
	if result.Total != result.Created+result.Updated+result.Skipped {
		t.Fatalf("count conservation violated: %+v", result)
	}
	if result.Total != len(customers) {
		t.Fatalf("expected total=%d; got %d", len(customers), result.Total)
	}

	mapping, err := models.FindCustomerMapping(ctx, nil, "S1")
	if err != nil {
		t.Fatalf("FindCustomerMapping: %v", err)
	}
	if mapping == nil {
		t.Fatalf("expected mapping for S1")
	}
	if mapping.UispClientId != 42 {
		t.Fatalf("expected S1 mapped to 42; got %d", mapping.UispClientId)
	}
	if mapping.Notes != models.NotesAutoMatched {
		t.Fatalf("expected notes %q; got %q", models.NotesAutoMatched, mapping.Notes)
	}

	// Second pass over unchanged data is a no-op: nothing created, nothing
	// rewritten.
	result, err = bridgesync.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile(repeat): %v", err)
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Fatalf("expected idempotent second pass; got %+v", result)
	}

	// Repoint: the custom_id moves to a different client upstream.
	repoint := []*models.NewUISPClient{
		{UispClientId: "42", CustomId: "", Name: "Alice Networks"},
		{UispClientId: "99", CustomId: "alice", Name: "Alice New"},
	}
	if _, err := models.BulkUpsertUISPClients(ctx, repoint, false); err != nil {
		t.Fatalf("repoint clients: %v", err)
	}

	result, err = bridgesync.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile(after repoint): %v", err)
	}
	if result.Created != 0 || result.Updated != 1 {
		t.Fatalf("expected created=0 updated=1 after repoint; got %+v", result)
	}

	mapping, err = models.FindCustomerMapping(ctx, nil, "S1")
	if err != nil || mapping == nil {
		t.Fatalf("FindCustomerMapping after repoint: %v %v", mapping, err)
	}
	if mapping.UispClientId != 99 {
		t.Fatalf("expected S1 repointed to 99; got %d", mapping.UispClientId)
	}

	// At most one mapping per customer, however many passes ran.
	db := config.GetDB()
	var mappingCount int64
	if err := db.Model(&models.CustomerMapping{}).Where("splynx_customer_id = ?", "S1").Count(&mappingCount).Error; err != nil {
		t.Fatalf("count mappings: %v", err)
	}
	if mappingCount != 1 {
		t.Fatalf("expected exactly one mapping for S1; got %d", mappingCount)
	}
}

func TestManualMappingAndStats(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	setupIntegrationDeps(t)

	if _, err := models.BulkUpsertSplynxCustomers(ctx, []*models.NewSplynxCustomer{
		{SplynxId: "M1", Login: "mary", Status: "active"},
		{SplynxId: "M2", Login: "mike", Status: "inactive"},
	}, false); err != nil {
		t.Fatalf("seed customers: %v", err)
	}
	if _, err := models.BulkUpsertUISPClients(ctx, []*models.NewUISPClient{
		{UispClientId: "7", CustomId: "someone-else"},
	}, false); err != nil {
		t.Fatalf("seed clients: %v", err)
	}

	// Manual override maps regardless of what the matcher says.
	result, err := models.UpsertCustomerMapping(ctx, "M1", 7, "manually linked")
	if err != nil {
		t.Fatalf("UpsertCustomerMapping: %v", err)
	}
	if result.Action != models.UpsertActionInserted {
		t.Fatalf("expected inserted; got %s", result.Action)
	}

	stats, err := models.GetMappingStats(ctx)
	if err != nil {
		t.Fatalf("GetMappingStats: %v", err)
	}
	if stats.TotalMappings != 1 || stats.TotalSplynxCustomers != 2 || stats.TotalUispClients != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.UnmappedSplynxCustomers != 1 || stats.UnmappedUispClients != 0 {
		t.Fatalf("unexpected unmapped counts: %+v", stats)
	}

	enriched, err := models.GetCustomerMappingsEnriched(ctx)
	if err != nil {
		t.Fatalf("GetCustomerMappingsEnriched: %v", err)
	}
	if len(enriched) != 1 {
		t.Fatalf("expected one enriched mapping; got %d", len(enriched))
	}
	if enriched[0].SplynxCustomer == nil || enriched[0].SplynxCustomer.Login != "mary" {
		t.Fatalf("expected enriched customer mary; got %+v", enriched[0].SplynxCustomer)
	}
	if enriched[0].UispClient == nil || enriched[0].UispClient.UispClientId != "7" {
		t.Fatalf("expected enriched client 7; got %+v", enriched[0].UispClient)
	}

	// Deleting the mapping frees the customer again.
	if err := models.DeleteCustomerMapping(ctx, enriched[0].ID); err != nil {
		t.Fatalf("DeleteCustomerMapping: %v", err)
	}
	mapping, err := models.FindCustomerMapping(ctx, nil, "M1")
	if err != nil {
		t.Fatalf("FindCustomerMapping: %v", err)
	}
	if mapping != nil {
		t.Fatalf("expected mapping gone; got %+v", mapping)
	}
}

// setupIntegrationDeps starts throwaway MySQL and Redis containers and
// points config.Connect* at them. Each test gets a fresh database.
func setupIntegrationDeps(t *testing.T) {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ispbridge_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ispbridge-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ispbridge-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ispbridge_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
