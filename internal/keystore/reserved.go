package keystore

import "fmt"

// reservedEnvKeys are the NEAR_* variable names the worker injects into
// every guest environment (spec §4.6, §4.7); user-supplied secrets may
// never shadow them.
var reservedEnvKeys = map[string]bool{
	"NEAR_SENDER_ID":           true,
	"NEAR_CONTRACT_ID":         true,
	"NEAR_BLOCK_HEIGHT":        true,
	"NEAR_BLOCK_TIMESTAMP":     true,
	"NEAR_RECEIPT_ID":          true,
	"NEAR_PREDECESSOR_ID":      true,
	"NEAR_SIGNER_PUBLIC_KEY":   true,
	"NEAR_GAS_BURNT":           true,
	"NEAR_USER_ACCOUNT_ID":     true,
	"NEAR_PAYMENT_YOCTO":       true,
	"NEAR_TRANSACTION_HASH":    true,
	"NEAR_MAX_INSTRUCTIONS":    true,
	"NEAR_MAX_MEMORY_MB":       true,
	"NEAR_MAX_EXECUTION_SECONDS": true,
	"NEAR_REQUEST_ID":          true,
}

// ValidateUserSecretKeys rejects any key that collides with a reserved
// NEAR_* context variable or uses the PROTECTED_ prefix reserved for
// TEE-generated secrets.
func ValidateUserSecretKeys(keys []string) error {
	var reserved, protected []string
	for _, k := range keys {
		if reservedEnvKeys[k] {
			reserved = append(reserved, k)
		}
		if HasReservedPrefix(k) {
			protected = append(protected, k)
		}
	}
	if len(reserved) > 0 {
		return fmt.Errorf("keystore: cannot use reserved system keywords as secret keys: %v", reserved)
	}
	if len(protected) > 0 {
		return fmt.Errorf("keystore: manual secrets cannot use the %q prefix: %v", reservedSecretPrefix, protected)
	}
	return nil
}
