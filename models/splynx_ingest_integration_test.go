package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wavelinknet/ispbridge_backend/config"
	"github.com/wavelinknet/ispbridge_backend/models"
)

func TestSplynxIngestIdempotentAndOverwrites(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	setupIntegrationDeps(t)

	// First ingest inserts.
	first := &models.NewSplynxCustomer{
		SplynxId: "S1",
		Login:    "alice",
		Name:     "Alice",
		Email:    "alice@example.com",
		Status:   "active",
		Balance:  decimal.NewFromInt(100),
	}
	result, err := models.UpsertSplynxCustomer(ctx, first)
	if err != nil {
		t.Fatalf("UpsertSplynxCustomer(insert): %v", err)
	}
	if result.Action != models.UpsertActionInserted {
		t.Fatalf("expected action inserted; got %s", result.Action)
	}

	// Same payload again classifies as updated, record count stays 1.
	result, err = models.UpsertSplynxCustomer(ctx, first)
	if err != nil {
		t.Fatalf("UpsertSplynxCustomer(repeat): %v", err)
	}
	if result.Action != models.UpsertActionUpdated {
		t.Fatalf("expected action updated; got %s", result.Action)
	}

	db := config.GetDB()
	var count int64
	if err := db.Model(&models.SplynxCustomer{}).Where("splynx_id = ?", "S1").Count(&count).Error; err != nil {
		t.Fatalf("count customers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record for S1; got %d", count)
	}

	// A partial payload clears fields the previous ingest had set.
	partial := &models.NewSplynxCustomer{
		SplynxId: "S1",
		Login:    "alice",
		Name:     "Alice",
		Status:   "active",
	}
	if _, err := models.UpsertSplynxCustomer(ctx, partial); err != nil {
		t.Fatalf("UpsertSplynxCustomer(partial): %v", err)
	}

	stored, err := models.GetSplynxCustomerById(ctx, "S1")
	if err != nil {
		t.Fatalf("GetSplynxCustomerById: %v", err)
	}
	if stored == nil {
		t.Fatalf("customer S1 not found after partial upsert")
	}
	if stored.Email != "" {
		t.Fatalf("expected email cleared by partial upsert; got %q", stored.Email)
	}
	if !stored.Balance.IsZero() {
		t.Fatalf("expected balance cleared by partial upsert; got %s", stored.Balance.String())
	}
}

func TestBulkUpsertCountsAndFailFast(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	setupIntegrationDeps(t)

	batch := []*models.NewSplynxCustomer{
		{SplynxId: "B1", Login: "u1", Status: "active"},
		{SplynxId: "B2", Login: "u2", Status: "inactive"},
		{SplynxId: "B3", Login: "u3", Status: "weird-status"},
	}
	result, err := models.BulkUpsertSplynxCustomers(ctx, batch, false)
	if err != nil {
		t.Fatalf("BulkUpsertSplynxCustomers: %v", err)
	}
	if result.Inserted != 3 || result.Updated != 0 || result.Total != 3 {
		t.Fatalf("expected inserted=3 updated=0 total=3; got %+v", result)
	}

	// Unrecognized statuses normalize to unknown.
	b3, err := models.GetSplynxCustomerById(ctx, "B3")
	if err != nil || b3 == nil {
		t.Fatalf("GetSplynxCustomerById(B3): %v %v", b3, err)
	}
	if b3.Status != models.CustomerStatusUnknown {
		t.Fatalf("expected status unknown; got %q", b3.Status)
	}

	// Second pass over the same batch is pure updates.
	result, err = models.BulkUpsertSplynxCustomers(ctx, batch, false)
	if err != nil {
		t.Fatalf("BulkUpsertSplynxCustomers(repeat): %v", err)
	}
	if result.Inserted != 0 || result.Updated != 3 {
		t.Fatalf("expected inserted=0 updated=3 on repeat; got %+v", result)
	}

	// A record without splynx_id rolls the whole batch back and the error
	// names the offending index.
	db := config.GetDB()
	var before int64
	if err := db.Model(&models.SplynxCustomer{}).Count(&before).Error; err != nil {
		t.Fatalf("count before: %v", err)
	}

	bad := []*models.NewSplynxCustomer{
		{SplynxId: "C1", Login: "new1"},
		{SplynxId: "", Login: "broken"},
		{SplynxId: "C3", Login: "new3"},
	}
	_, err = models.BulkUpsertSplynxCustomers(ctx, bad, false)
	if err == nil {
		t.Fatalf("expected error for record without splynx_id")
	}
	if !strings.Contains(err.Error(), "index 1") {
		t.Fatalf("expected error to name offending index 1; got %q", err.Error())
	}

	var after int64
	if err := db.Model(&models.SplynxCustomer{}).Count(&after).Error; err != nil {
		t.Fatalf("count after: %v", err)
	}
	if after != before {
		t.Fatalf("failed batch must not leave partial writes: before=%d after=%d", before, after)
	}

	// With skipInvalid the same batch lands minus the bad record.
	result, err = models.BulkUpsertSplynxCustomers(ctx, bad, true)
	if err != nil {
		t.Fatalf("BulkUpsertSplynxCustomers(skipInvalid): %v", err)
	}
	if result.Inserted != 2 || result.Skipped != 1 || result.Total != 3 {
		t.Fatalf("expected inserted=2 skipped=1 total=3; got %+v", result)
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
