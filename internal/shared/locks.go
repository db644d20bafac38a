package shared

import "fmt"

// BalanceLockKey builds redis keys for balance-sheet generation critical sections.
func BalanceLockKey(contractorID, storeID int64, month string) string {
	return fmt.Sprintf("balance:%d:%d:%s:lock", contractorID, storeID, month)
}
