package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
	logsvc "github.com/trezcool/masomo-pkl/services/logger"
	"github.com/trezcool/masomo-pkl/storage/database"
)

func init() {
	database.SetMigrationsLogger(logsvc.NewNopLogger())
}

// OpenDB returns a migrated in-memory SQLite database, closed at the end of the test.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := core.NewTestConfig()
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreatePeriod creates a period starting today and lasting 3 months.
func CreatePeriod(t *testing.T, repo placement.Repository, name string, active bool) placement.Period {
	t.Helper()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(24 * time.Hour)
	p, err := repo.CreatePeriod(ctx, placement.Period{Name: name, StartDate: start, EndDate: start.AddDate(0, 3, 0)})
	if err != nil {
		t.Fatalf("createPeriod() failed: %v", err)
	}
	if active {
		if err = repo.ActivatePeriod(ctx, p.ID); err != nil {
			t.Fatalf("createPeriod() failed: %v", err)
		}
		p.IsActive = true
	}
	return p
}

func CreateCandidate(t *testing.T, repo placement.Repository, name, class string) placement.Candidate {
	t.Helper()
	c, err := repo.CreateCandidate(context.Background(), placement.Candidate{Name: name, ClassLabel: class, Department: "TKJ"})
	if err != nil {
		t.Fatalf("createCandidate() failed: %v", err)
	}
	return c
}

func CreateHost(t *testing.T, repo placement.Repository, name string, capacity int) placement.Host {
	t.Helper()
	h, err := repo.CreateHost(context.Background(), placement.Host{Name: name, Capacity: capacity})
	if err != nil {
		t.Fatalf("createHost() failed: %v", err)
	}
	return h
}

func CreateSupervisor(t *testing.T, repo placement.Repository, name, email string) placement.Supervisor {
	t.Helper()
	s, err := repo.CreateSupervisor(context.Background(), placement.Supervisor{Name: name, Email: email})
	if err != nil {
		t.Fatalf("createSupervisor() failed: %v", err)
	}
	return s
}

// CreateAssignment stores an assignment directly, bypassing the placement rules.
func CreateAssignment(t *testing.T, repo placement.Repository, c placement.Candidate, h placement.Host, p placement.Period, supervisorID string) placement.Assignment {
	t.Helper()
	a, err := repo.CreateAssignment(context.Background(), placement.Assignment{
		CandidateID:  c.ID,
		HostID:       h.ID,
		PeriodID:     p.ID,
		SupervisorID: supervisorID,
		Candidate:    c,
	})
	if err != nil {
		t.Fatalf("createAssignment() failed: %v", err)
	}
	return a
}
