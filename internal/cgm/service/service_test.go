package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalsync/vitalsync/internal/cgm/domain"
	"github.com/vitalsync/vitalsync/internal/cgm/repository"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/vault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testVaultKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

// stubClient is a scriptable vendor client.
type stubClient struct {
	vendor      string
	accountID   string
	validateErr error
	reading     *domain.Reading
	fetchErr    error
	fetches     int
}

func (c *stubClient) Vendor() string { return c.vendor }

func (c *stubClient) ValidateCredentials(ctx context.Context, account domain.Account) (string, error) {
	if c.validateErr != nil {
		return "", c.validateErr
	}
	return c.accountID, nil
}

func (c *stubClient) FetchCurrentReading(ctx context.Context, account domain.Account) (*domain.Reading, error) {
	c.fetches++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.reading, nil
}

type testEnv struct {
	db    *gorm.DB
	svc   domain.Service
	stub  *stubClient
	vault *vault.Vault
	genID *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Connection{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	v, err := vault.New(testVaultKey)
	require.NoError(t, err)

	stub := &stubClient{vendor: domain.VendorDexcom, accountID: "acct-1"}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Vault:    v,
		Registry: vendors.NewRegistry(stub),
		Repo:     repository.Provide(),
		Config: config.Config{
			PollInterval:       5 * time.Minute,
			PollRequestTimeout: 30 * time.Second,
		},
	})
	return &testEnv{db: db, svc: svc, stub: stub, vault: v, genID: node}
}

func TestConnect_SealsCredentialsAndStores(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	conn, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   userID,
		Vendor:   "Dexcom",
		Region:   "us",
		Username: "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.VendorDexcom, conn.Vendor)
	assert.Equal(t, domain.StatusConnected, conn.Status)
	assert.True(t, conn.Active)
	assert.Equal(t, "acct-1", conn.AccountID)
	assert.Equal(t, 300, conn.PollInterval)
	assert.NotEqual(t, "hunter2", conn.SealedPassword)

	plaintext, err := env.vault.Unseal(conn.SealedPassword)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestConnect_ReconnectKeepsSingleRow(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	first, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   userID,
		Vendor:   domain.VendorDexcom,
		Username: "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	second, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   userID,
		Vendor:   domain.VendorDexcom,
		Username: "user@example.com",
		Password: "new-password",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, env.db.Model(&domain.Connection{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	plaintext, err := env.vault.Unseal(second.SealedPassword)
	require.NoError(t, err)
	assert.Equal(t, "new-password", plaintext)
}

func TestConnect_InvalidCredentialsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.stub.validateErr = domain.ErrInvalidCredentials
	userID := env.genID.Generate()

	_, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   userID,
		Vendor:   domain.VendorDexcom,
		Username: "user@example.com",
		Password: "wrong",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	var count int64
	require.NoError(t, env.db.Model(&domain.Connection{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestConnect_UnsupportedVendor(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   env.genID.Generate(),
		Vendor:   "medtronic",
		Username: "user@example.com",
		Password: "hunter2",
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedDevice)
}

func TestDisconnect_SoftDelete(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	_, err := env.svc.Connect(context.Background(), domain.ConnectRequest{
		UserID:   userID,
		Vendor:   domain.VendorDexcom,
		Username: "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Disconnect(context.Background(), userID, domain.VendorDexcom))

	var stored domain.Connection
	require.NoError(t, env.db.Where("user_id = ?", userID).First(&stored).Error)
	assert.False(t, stored.Active)

	// The row stays for audit history, only the flag changes.
	conns, err := env.svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
}

func TestDisconnect_UnknownConnection(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.Disconnect(context.Background(), env.genID.Generate(), domain.VendorDexcom)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}
