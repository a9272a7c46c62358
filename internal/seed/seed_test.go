package seed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/memory"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	passwords := auth.NewPasswordService(bcrypt.MinCost)
	s := NewSeeder(st, passwords, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seeded, err := s.Run(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	walls, err := st.TopEntries(ctx, domain.ModeWalls, 0)
	require.NoError(t, err)
	require.Len(t, walls, 3)
	assert.Equal(t, "NeonViper", walls[0].Username)
	assert.Equal(t, int64(2450), walls[0].Score)
	assert.Equal(t, []int64{2450, 2100, 1620}, []int64{walls[0].Score, walls[1].Score, walls[2].Score})

	all, err := st.TopEntries(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	user, err := st.GetUserByEmail(ctx, "user2@example.com")
	require.NoError(t, err)
	assert.Equal(t, "SnakeKing", user.Username)
	assert.NoError(t, passwords.Verify(user.PasswordHash, DemoPassword))

	// A second run leaves the data alone.
	seeded, err = s.Run(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	all, err = st.TopEntries(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
