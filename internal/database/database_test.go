package database

import "testing"

func TestOpenMemory(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notification_policies`).Scan(&n); err != nil {
		t.Fatalf("count policies: %v", err)
	}
	if n != 10 {
		t.Errorf("seeded policies = %d, want 10", n)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT id FROM t WHERE a = ? AND b = ?`

	sqlite := &DB{Driver: DriverSQLite}
	if got := sqlite.Rebind(q); got != q {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}

	pg := &DB{Driver: DriverPostgres}
	want := `SELECT id FROM t WHERE a = $1 AND b = $2`
	if got := pg.Rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}
