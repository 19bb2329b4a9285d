package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-pkl/core/user"
	testutil "github.com/trezcool/masomo-pkl/tests"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testutil.OpenDB(t))

	jdoe := testutil.CreateUser(t, repo, "John Doe", "jdoe", "jdoe@example.com", "Passw0rd", []string{user.RoleAdmin}, true)
	noname := testutil.CreateUser(t, repo, "No Name", "", "noname@example.com", "", nil, false)

	t.Run("get", func(t *testing.T) {
		tests := []struct {
			name    string
			filter  user.GetFilter
			wantID  string
			wantErr error
		}{
			{"by id", user.GetFilter{ID: jdoe.ID}, jdoe.ID, nil},
			{"by username", user.GetFilter{Username: "jdoe"}, jdoe.ID, nil},
			{"by email", user.GetFilter{Email: "noname@example.com"}, noname.ID, nil},
			{"username or email: username", user.GetFilter{UsernameOrEmail: "jdoe"}, jdoe.ID, nil},
			{"username or email: email", user.GetFilter{UsernameOrEmail: "noname@example.com"}, noname.ID, nil},
			{"invalid id", user.GetFilter{ID: "42"}, "", user.ErrNotFound},
			{"unknown", user.GetFilter{Username: "nobody"}, "", user.ErrNotFound},
			{"empty filter", user.GetFilter{}, "", user.ErrNotFound},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				usr, err := repo.GetUser(ctx, tc.filter)
				if tc.wantErr != nil {
					assert.Equal(t, tc.wantErr, errors.Cause(err))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.wantID, usr.ID)
			})
		}
	})

	t.Run("round trip", func(t *testing.T) {
		usr, err := repo.GetUser(ctx, user.GetFilter{ID: jdoe.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword("Passw0rd"))
		assert.True(t, usr.LastLogin.IsZero())

		usr, err = repo.GetUser(ctx, user.GetFilter{ID: noname.ID})
		require.NoError(t, err)
		assert.Empty(t, usr.Username)
		assert.Nil(t, usr.Roles)
		assert.False(t, usr.IsActive)
	})

	t.Run("uniqueness", func(t *testing.T) {
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "jane", "jane@example.com"))
		assert.Equal(t, user.ErrUsernameExists, repo.CheckUsernameUniqueness(ctx, "jdoe", "jane@example.com"))
		assert.Equal(t, user.ErrEmailExists, repo.CheckUsernameUniqueness(ctx, "jane", "jdoe@example.com"))
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "jdoe", "jdoe@example.com", jdoe))
		assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "", ""))

		_, err := repo.CreateUser(ctx, user.User{Name: "Clone", Username: "jdoe", CreatedAt: time.Now(), UpdatedAt: time.Now()})
		assert.Equal(t, user.ErrUsernameExists, err)
	})

	t.Run("update", func(t *testing.T) {
		usr := jdoe
		usr.Name = "John R. Doe"
		usr.LastLogin = time.Now().UTC()
		_, err := repo.UpdateUser(ctx, usr)
		require.NoError(t, err)

		got, err := repo.GetUser(ctx, user.GetFilter{ID: jdoe.ID})
		require.NoError(t, err)
		assert.Equal(t, "John R. Doe", got.Name)
		assert.WithinDuration(t, usr.LastLogin, got.LastLogin, time.Millisecond)

		usr.Email = "noname@example.com"
		_, err = repo.UpdateUser(ctx, usr)
		assert.Equal(t, user.ErrEmailExists, err)

		_, err = repo.UpdateUser(ctx, user.User{ID: "3f1d7b52-6a4e-4b8f-9a1e-0c2d5e6f7a8b", Name: "ghost"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}
