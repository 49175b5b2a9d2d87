package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresRepo_AppendOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := Event{ID: "e1", TenantID: "t", Type: EventTypeAdminAction, ActorUserID: "u", CallID: "c1", Message: "forced end", CreatedAt: at}

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs("e1", "t", "admin_action", "u", "", "", "c1", "", "forced end", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewPostgresRepo(db).Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_ListByCall(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "tenant_id", "type", "actor_user_id", "actor_role", "ip_address", "call_id", "session_id", "message", "metadata", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM audit_events WHERE tenant_id = \$1 AND call_id = \$2`).
		WithArgs("t", "c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "t", "session_error", "", "", "", "c1", "s1", "stt timeout", "", at).
			AddRow("e2", "t", "call_ended", "", "", "", "c1", "s1", "completed", `{"duration":12}`, at.Add(time.Second)))

	evs, err := NewPostgresRepo(db).ListByCall(context.Background(), "t", "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeSessionError || evs[1].Metadata != `{"duration":12}` {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
