package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/AdalynJs/nucypher/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func setupArrangementRepoTest(t *testing.T) (*ArrangementRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewArrangementRepository(sqlxDB)

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

var arrangementRowColumns = []string{
	"id", "hrac", "policy_id", "owner_key", "kfrag", "status", "deposit", "expiration", "created_at", "updated_at",
}

func sampleArrangement() *models.Arrangement {
	now := time.Now().UTC()
	return &models.Arrangement{
		ID:         uuid.New(),
		HRAC:       []byte("hrac-0123456789abcdef0123456789ab"),
		PolicyID:   []byte("policy-0123456789abcdef012345678"),
		OwnerKey:   []byte("owner-0123456789abcdef0123456789"),
		Status:     models.ArrangementAccepted,
		Deposit:    100,
		Expiration: now.Add(24 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func arrangementRows(arrangements ...*models.Arrangement) *sqlmock.Rows {
	rows := sqlmock.NewRows(arrangementRowColumns)
	for _, a := range arrangements {
		rows.AddRow(a.ID.String(), a.HRAC, a.PolicyID, a.OwnerKey, a.KFrag, string(a.Status), a.Deposit, a.Expiration, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func TestArrangementRepository_Create(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()
	a := sampleArrangement()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO arrangements").
			WithArgs(a.ID, a.HRAC, a.PolicyID, a.OwnerKey, a.KFrag, a.Status, a.Deposit, a.Expiration, a.CreatedAt, a.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Create(ctx, a)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate HRAC", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO arrangements").
			WillReturnError(&pq.Error{Code: uniqueViolation})

		err := repo.Create(ctx, a)
		assert.ErrorIs(t, err, models.ErrArrangementConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO arrangements").
			WillReturnError(sql.ErrConnDone)

		err := repo.Create(ctx, a)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create arrangement")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestArrangementRepository_Get(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()
	a := sampleArrangement()
	a.KFrag = []byte("kfrag")
	a.Status = models.ArrangementEnacted

	t.Run("GetByID", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM arrangements WHERE id").
			WithArgs(a.ID).
			WillReturnRows(arrangementRows(a))

		got, err := repo.GetByID(ctx, a.ID)
		assert.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, a.KFrag, got.KFrag)
		assert.Equal(t, models.ArrangementEnacted, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetByHRAC", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM arrangements WHERE hrac").
			WithArgs(a.HRAC).
			WillReturnRows(arrangementRows(a))

		got, err := repo.GetByHRAC(ctx, a.HRAC)
		assert.NoError(t, err)
		assert.Equal(t, a.HRAC, got.HRAC)
		assert.Equal(t, a.OwnerKey, got.OwnerKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM arrangements WHERE hrac").
			WithArgs([]byte("missing")).
			WillReturnError(sql.ErrNoRows)

		got, err := repo.GetByHRAC(ctx, []byte("missing"))
		assert.ErrorIs(t, err, models.ErrArrangementNotFound)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM arrangements WHERE id").
			WillReturnError(sql.ErrConnDone)

		_, err := repo.GetByID(ctx, a.ID)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get arrangement")
	})
}

func TestArrangementRepository_Update(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()
	a := sampleArrangement()
	a.KFrag = []byte("kfrag")
	a.Status = models.ArrangementEnacted

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("UPDATE arrangements").
			WithArgs(a.KFrag, a.Status, a.UpdatedAt, a.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(ctx, a))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectExec("UPDATE arrangements").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(ctx, a), models.ErrArrangementNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestArrangementRepository_Delete(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM arrangements WHERE id").
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(ctx, id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM arrangements WHERE id").
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(ctx, id), models.ErrArrangementNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestArrangementRepository_ListExpired(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	first, second := sampleArrangement(), sampleArrangement()
	first.Expiration = now.Add(-2 * time.Hour)
	second.Expiration = now.Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM arrangements WHERE expiration <").
		WithArgs(now).
		WillReturnRows(arrangementRows(first, second))

	got, err := repo.ListExpired(ctx, now)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArrangementRepository_Count(t *testing.T) {
	repo, mock, cleanup := setupArrangementRepoTest(t)
	defer cleanup()

	ctx := context.Background()

	tests := []struct {
		name   string
		status models.ArrangementStatus
		setup  func()
		want   int
	}{
		{
			name:   "All arrangements",
			status: "",
			setup: func() {
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM arrangements$`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
			},
			want: 7,
		},
		{
			name:   "Enacted only",
			status: models.ArrangementEnacted,
			setup: func() {
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM arrangements WHERE status`).
					WithArgs(models.ArrangementEnacted).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			count, err := repo.Count(ctx, tt.status)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, count)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
