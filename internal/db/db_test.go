package db

import (
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

// The row locks serializing referral transitions and ledger settlement hang
// off this helper, so the emitted SQL must actually carry FOR UPDATE.
func TestLockForUpdateEmitsLockingClause(t *testing.T) {
	gdb, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	var rows []map[string]interface{}
	stmt := LockForUpdate(gdb).Table("referrals").Where("id = ?", 1).Find(&rows).Statement

	sql := stmt.SQL.String()
	if !strings.Contains(sql, "FOR UPDATE") {
		t.Errorf("expected FOR UPDATE in query, got %q", sql)
	}
}

func TestLockForUpdateSkipsSQLite(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	var rows []map[string]interface{}
	stmt := LockForUpdate(gdb).Table("referrals").Where("id = ?", 1).Find(&rows).Statement

	sql := stmt.SQL.String()
	if strings.Contains(sql, "FOR UPDATE") {
		t.Errorf("sqlite query must not carry FOR UPDATE, got %q", sql)
	}
}
