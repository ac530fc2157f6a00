package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// TenantDatabaseName derives the database name for an instance. The name is
// deterministic so that re-running an allocation or migration for the same
// instance targets the same database.
func TenantDatabaseName(customerID, instanceID string) string {
	return fmt.Sprintf("erp_%s_%s", shortHash(customerID), shortHash(instanceID))
}

// TenantRoleName derives the owning role name for an instance database.
func TenantRoleName(customerID, instanceID string) string {
	return fmt.Sprintf("erp_u_%s_%s", shortHash(customerID), shortHash(instanceID))
}

// DedicatedServerName derives the registry name for an instance's dedicated
// database server. Provisioning is keyed on this name, which makes the
// insert-or-reuse pattern safe to re-execute after a crash.
func DedicatedServerName(customerID, instanceID string) string {
	return fmt.Sprintf("dedicated-%s-%s", shortHash(customerID), shortHash(instanceID))
}

// PoolName derives the registry name for the nth shared pool.
func PoolName(seq int) string {
	return fmt.Sprintf("pool-shared-%03d", seq)
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(strings.ToLower(s)))
	return hex.EncodeToString(h[:])[:8]
}
