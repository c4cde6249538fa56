package wallet

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/pkg/hdwallet"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

const (
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	rippleTreasury = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Create(ctx context.Context, wallet *entities.Wallet) error {
	args := m.Called(ctx, wallet)
	return args.Error(0)
}

func (m *MockWalletRepository) GetByUserAndNetwork(ctx context.Context, userID uuid.UUID, network entities.Network) (*entities.Wallet, error) {
	args := m.Called(ctx, userID, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetByAddress(ctx context.Context, network entities.Network, address string) (*entities.Wallet, error) {
	args := m.Called(ctx, network, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Wallet), args.Error(1)
}

func (m *MockWalletRepository) MarkHasBalance(ctx context.Context, network entities.Network, address string) error {
	args := m.Called(ctx, network, address)
	return args.Error(0)
}

// counterNonces mimics the upsert counter of crypto_nonces
type counterNonces struct {
	mu     sync.Mutex
	values map[entities.Network]int64
}

func (c *counterNonces) Allocate(_ context.Context, network entities.Network, defaultValue int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[entities.Network]int64{}
	}
	v, ok := c.values[network]
	if !ok {
		c.values[network] = defaultValue
		return defaultValue, nil
	}
	c.values[network] = v + 1
	return v + 1, nil
}

func newTestService(t *testing.T, wallets *MockWalletRepository, nonces *counterNonces) *Service {
	t.Helper()
	master, err := hdwallet.NewMaster(testMnemonic, "")
	require.NoError(t, err)
	return NewService(wallets, nonces, master, Config{RippleTreasuryAddress: rippleTreasury}, logger.NewNop())
}

func TestService_DeriveAddress(t *testing.T) {
	svc := newTestService(t, &MockWalletRepository{}, &counterNonces{})

	eth0, err := svc.DeriveAddress(entities.NetworkEthereum, 0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", eth0)

	again, err := svc.DeriveAddress(entities.NetworkEthereum, 0)
	require.NoError(t, err)
	assert.Equal(t, eth0, again)

	tron, err := svc.DeriveAddress(entities.NetworkTron, 0)
	require.NoError(t, err)
	assert.True(t, len(tron) == 34 && tron[0] == 'T')

	xrp, err := svc.DeriveAddress(entities.NetworkRipple, 42)
	require.NoError(t, err)
	assert.Equal(t, rippleTreasury+":42", xrp)
}

func TestService_DeriveAddress_NoCollisions(t *testing.T) {
	svc := newTestService(t, &MockWalletRepository{}, &counterNonces{})
	seen := make(map[string]uint32)
	for i := uint32(0); i < 200; i++ {
		addr, err := svc.DeriveAddress(entities.NetworkEthereum, i)
		require.NoError(t, err)
		prev, dup := seen[addr]
		require.False(t, dup, "index %d collides with %d", i, prev)
		seen[addr] = i
	}
}

func TestService_GetOrCreateUserWallet_ReturnsExisting(t *testing.T) {
	wallets := &MockWalletRepository{}
	userID := uuid.New()
	existing := &entities.Wallet{ID: uuid.New(), UserID: userID, Network: entities.NetworkEthereum, Address: "0xabc", Nonce: 4}
	wallets.On("GetByUserAndNetwork", mock.Anything, userID, entities.NetworkEthereum).Return(existing, nil)

	nonces := &counterNonces{}
	svc := newTestService(t, wallets, nonces)

	got, err := svc.GetOrCreateUserWallet(context.Background(), userID, entities.NetworkEthereum)
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Empty(t, nonces.values)
	wallets.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_GetOrCreateUserWallet_Creates(t *testing.T) {
	wallets := &MockWalletRepository{}
	userID := uuid.New()
	wallets.On("GetByUserAndNetwork", mock.Anything, userID, entities.NetworkTron).
		Return(nil, apperrors.NotFoundError("WALLET"))
	wallets.On("Create", mock.Anything, mock.MatchedBy(func(w *entities.Wallet) bool {
		return w.UserID == userID && w.Nonce == 1 && w.Network == entities.NetworkTron
	})).Return(nil)

	svc := newTestService(t, wallets, &counterNonces{})
	got, err := svc.GetOrCreateUserWallet(context.Background(), userID, entities.NetworkTron)
	require.NoError(t, err)

	want, err := svc.DeriveAddress(entities.NetworkTron, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got.Address)
	wallets.AssertExpectations(t)
}

func TestService_GetOrCreateUserWallet_StaysClearOfTreasuryIndex(t *testing.T) {
	master, err := hdwallet.NewMaster(testMnemonic, "")
	require.NoError(t, err)
	cfg := Config{EthereumTreasuryIndex: 4, RippleTreasuryAddress: rippleTreasury}

	t.Run("fresh counter starts above treasury", func(t *testing.T) {
		wallets := &MockWalletRepository{}
		wallets.On("GetByUserAndNetwork", mock.Anything, mock.Anything, entities.NetworkEthereum).
			Return(nil, apperrors.NotFoundError("WALLET"))
		wallets.On("Create", mock.Anything, mock.Anything).Return(nil)
		svc := NewService(wallets, &counterNonces{}, master, cfg, logger.NewNop())

		got, err := svc.GetOrCreateUserWallet(context.Background(), uuid.New(), entities.NetworkEthereum)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Nonce)
	})

	t.Run("older counter skips the treasury index", func(t *testing.T) {
		wallets := &MockWalletRepository{}
		wallets.On("GetByUserAndNetwork", mock.Anything, mock.Anything, entities.NetworkEthereum).
			Return(nil, apperrors.NotFoundError("WALLET"))
		wallets.On("Create", mock.Anything, mock.Anything).Return(nil)
		nonces := &counterNonces{values: map[entities.Network]int64{entities.NetworkEthereum: 3}}
		svc := NewService(wallets, nonces, master, cfg, logger.NewNop())

		got, err := svc.GetOrCreateUserWallet(context.Background(), uuid.New(), entities.NetworkEthereum)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Nonce)

		treasury, err := svc.TreasurySigner(entities.NetworkEthereum)
		require.NoError(t, err)
		assert.NotEqual(t, treasury.Address, got.Address)
	})
}

func TestService_GetOrCreateUserWallet_ConcurrentIndicesAreUnique(t *testing.T) {
	wallets := &MockWalletRepository{}
	wallets.On("GetByUserAndNetwork", mock.Anything, mock.Anything, entities.NetworkTron).
		Return(nil, apperrors.NotFoundError("WALLET"))
	wallets.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(t, wallets, &counterNonces{})

	const users = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	var indices []int64
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := svc.GetOrCreateUserWallet(context.Background(), uuid.New(), entities.NetworkTron)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			indices = append(indices, w.Nonce)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, indices, users)
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, index := range indices {
		assert.Equal(t, int64(i+1), index, "indices must be strictly increasing without repeats")
	}
}

func TestService_GetOrCreateUserWallet_RippleUsesTag(t *testing.T) {
	wallets := &MockWalletRepository{}
	userID := uuid.New()
	wallets.On("GetByUserAndNetwork", mock.Anything, userID, entities.NetworkRipple).
		Return(nil, apperrors.NotFoundError("WALLET"))
	wallets.On("Create", mock.Anything, mock.Anything).Return(nil)

	nonces := &counterNonces{values: map[entities.Network]int64{entities.NetworkRipple: 99}}
	svc := newTestService(t, wallets, nonces)

	got, err := svc.GetOrCreateUserWallet(context.Background(), userID, entities.NetworkRipple)
	require.NoError(t, err)
	assert.Equal(t, rippleTreasury+":100", got.Address)
	assert.Equal(t, int64(100), got.Nonce)
}

func TestService_GetOrCreateUserWallet_ConcurrentCreateRereads(t *testing.T) {
	wallets := &MockWalletRepository{}
	userID := uuid.New()
	winner := &entities.Wallet{ID: uuid.New(), UserID: userID, Network: entities.NetworkEthereum, Address: "0xwinner", Nonce: 7}
	wallets.On("GetByUserAndNetwork", mock.Anything, userID, entities.NetworkEthereum).
		Return(nil, apperrors.NotFoundError("WALLET")).Once()
	wallets.On("Create", mock.Anything, mock.Anything).Return(apperrors.AlreadyExistsError("WALLET"))
	wallets.On("GetByUserAndNetwork", mock.Anything, userID, entities.NetworkEthereum).
		Return(winner, nil).Once()

	svc := newTestService(t, wallets, &counterNonces{})
	got, err := svc.GetOrCreateUserWallet(context.Background(), userID, entities.NetworkEthereum)
	require.NoError(t, err)
	assert.Same(t, winner, got)
	wallets.AssertExpectations(t)
}

func TestService_Signers(t *testing.T) {
	master, err := hdwallet.NewMaster(testMnemonic, "")
	require.NoError(t, err)
	cfg := Config{EthereumTreasuryIndex: 0, TronTreasuryIndex: 3, RippleTreasuryAddress: rippleTreasury}
	svc := NewService(&MockWalletRepository{}, &counterNonces{}, master, cfg, logger.NewNop())

	eth, err := svc.TreasurySigner(entities.NetworkEthereum)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", eth.Address)
	assert.Equal(t, entities.SignerTreasury, eth.Kind)

	tron, err := svc.TreasurySigner(entities.NetworkTron)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), tron.Index)

	xrp, err := svc.TreasurySigner(entities.NetworkRipple)
	require.NoError(t, err)
	assert.Equal(t, rippleTreasury, xrp.Address)

	user, err := svc.UserSigner(&entities.Wallet{Network: entities.NetworkEthereum, Address: "0xuser", Nonce: 12})
	require.NoError(t, err)
	assert.Equal(t, entities.Signer{Kind: entities.SignerUser, Index: 12, Address: "0xuser"}, user)

	_, err = svc.UserSigner(&entities.Wallet{Network: entities.NetworkRipple, Address: rippleTreasury + ":5", Nonce: 5})
	assert.Error(t, err)
}

func TestKeyRing_PrivateKey(t *testing.T) {
	master, err := hdwallet.NewMaster(testMnemonic, "")
	require.NoError(t, err)
	cfg := Config{TronTreasuryIndex: 2}
	ring := NewKeyRing(master, cfg)
	svc := NewService(&MockWalletRepository{}, &counterNonces{}, master, cfg, logger.NewNop())
	ctx := context.Background()

	userAddr, err := svc.DeriveAddress(entities.NetworkEthereum, 9)
	require.NoError(t, err)
	key, err := ring.PrivateKey(ctx, entities.NetworkEthereum, entities.Signer{Kind: entities.SignerUser, Index: 9, Address: userAddr})
	require.NoError(t, err)
	assert.Equal(t, userAddr, hdwallet.EthereumAddress(key))

	treasury, err := svc.TreasurySigner(entities.NetworkTron)
	require.NoError(t, err)
	key, err = ring.PrivateKey(ctx, entities.NetworkTron, treasury)
	require.NoError(t, err)
	assert.Equal(t, treasury.Address, hdwallet.TronAddress(key))

	_, err = ring.PrivateKey(ctx, entities.NetworkEthereum, entities.Signer{Kind: entities.SignerUser, Index: 8, Address: userAddr})
	assert.Error(t, err)

	_, err = ring.PrivateKey(ctx, entities.NetworkRipple, entities.Signer{Kind: entities.SignerTreasury, Address: rippleTreasury})
	assert.ErrorIs(t, err, apperrors.ErrDerivationFailed)
}

func TestService_SignerForAddress(t *testing.T) {
	wallets := &MockWalletRepository{}
	w := &entities.Wallet{Network: entities.NetworkTron, Address: "TUserWallet", Nonce: 21}
	wallets.On("GetByAddress", mock.Anything, entities.NetworkTron, "TUserWallet").Return(w, nil)
	wallets.On("GetByAddress", mock.Anything, entities.NetworkTron, "TMissing").Return(nil, apperrors.NotFoundError("WALLET"))

	svc := newTestService(t, wallets, &counterNonces{})
	signer, err := svc.SignerForAddress(context.Background(), entities.NetworkTron, "TUserWallet")
	require.NoError(t, err)
	assert.Equal(t, uint32(21), signer.Index)
	assert.Equal(t, entities.SignerUser, signer.Kind)

	_, err = svc.SignerForAddress(context.Background(), entities.NetworkTron, "TMissing")
	assert.True(t, apperrors.IsNotFound(err))
}
