package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pg "github.com/loykin/botfarm/internal/store/postgres"
	sq "github.com/loykin/botfarm/internal/store/sqlite"
)

func TestNewFromDSN(t *testing.T) {
	dir := t.TempDir()

	st, err := NewFromDSN(filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	require.IsType(t, &sq.DB{}, st)
	_ = st.Close()

	st, err = NewFromDSN("sqlite://" + filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	require.IsType(t, &sq.DB{}, st)
	_ = st.Close()

	// opening does not dial, so a postgres DSN selects the driver without a server
	st, err = NewFromDSN("postgres://user:pw@localhost:5/db")
	require.NoError(t, err)
	require.IsType(t, &pg.DB{}, st)
	_ = st.Close()

	_, err = NewFromDSN("  ")
	require.Error(t, err)
}
