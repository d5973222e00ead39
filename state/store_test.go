package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"streampay/native/escrow"
	"streampay/storage"
)

func testEscrow() *escrow.Escrow {
	e := &escrow.Escrow{
		Token:          "USDC",
		TotalAmount:    big.NewInt(10_000_000_000),
		ReleasedAmount: big.NewInt(0),
		DisputeWindow:  259200,
		CreatedAt:      1_700_000_000,
		Status:         escrow.StatusActive,
		Milestones: []*escrow.Milestone{
			{Title: "Design", TriggerKeyword: "feat/design", Bps: 3000},
			{Title: "Implementation", TriggerKeyword: "feat/impl", Bps: 7000},
		},
	}
	for i := range e.ID {
		e.ID[i] = byte(i)
	}
	e.Client[0] = 0x11
	e.Developer[0] = 0x22
	e.Backend[0] = 0x33
	return e
}

func TestEscrowRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	original := testEscrow()
	original.Milestones[0].Status = escrow.MilestonePendingRelease
	original.Milestones[0].PRURL = "https://github.com/acme/repo/pull/7"
	original.Milestones[0].CompletedAt = 1_700_000_500

	require.NoError(t, store.EscrowPut(original))

	loaded, ok := store.EscrowGet(original.ID)
	require.True(t, ok)
	require.Equal(t, original.ID, loaded.ID)
	require.Equal(t, original.Client, loaded.Client)
	require.Equal(t, original.Developer, loaded.Developer)
	require.Equal(t, original.Backend, loaded.Backend)
	require.Equal(t, "USDC", loaded.Token)
	require.Zero(t, original.TotalAmount.Cmp(loaded.TotalAmount))
	require.Zero(t, original.ReleasedAmount.Cmp(loaded.ReleasedAmount))
	require.Equal(t, original.DisputeWindow, loaded.DisputeWindow)
	require.Equal(t, original.CreatedAt, loaded.CreatedAt)
	require.Len(t, loaded.Milestones, 2)
	require.Equal(t, escrow.MilestonePendingRelease, loaded.Milestones[0].Status)
	require.Equal(t, original.Milestones[0].PRURL, loaded.Milestones[0].PRURL)
	require.Equal(t, original.Milestones[0].CompletedAt, loaded.Milestones[0].CompletedAt)
	require.Equal(t, escrow.MilestonePending, loaded.Milestones[1].Status)
}

func TestEscrowGetMissing(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	var id [32]byte
	id[0] = 0xFF
	loaded, ok := store.EscrowGet(id)
	require.False(t, ok)
	require.Nil(t, loaded)
}

func TestEscrowPutRejectsMalformed(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	broken := testEscrow()
	broken.ReleasedAmount = new(big.Int).Add(broken.TotalAmount, big.NewInt(1))
	require.Error(t, store.EscrowPut(broken))

	_, ok := store.EscrowGet(broken.ID)
	require.False(t, ok, "malformed record must not reach disk")
}

func TestAccountRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	addr := []byte{0x11, 0x22, 0x33}

	account, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, account.Balances, "missing account reads as empty, not nil")
	require.Zero(t, account.Balance("USDC").Sign())

	account.Balances["USDC"] = big.NewInt(500)
	account.Nonce = 3
	require.NoError(t, store.PutAccount(addr, account))

	loaded, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Nonce)
	require.Zero(t, big.NewInt(500).Cmp(loaded.Balance("USDC")))
}

func TestPutAccountNil(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	require.Error(t, store.PutAccount([]byte{0x01}, nil))
}

func TestEscrowVaultAddress(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	usdc, err := store.EscrowVaultAddress("USDC")
	require.NoError(t, err)
	again, err := store.EscrowVaultAddress("usdc")
	require.NoError(t, err)
	require.Equal(t, usdc, again, "derivation is case-normalized")

	xlm, err := store.EscrowVaultAddress("XLM")
	require.NoError(t, err)
	require.NotEqual(t, usdc, xlm, "distinct tokens use distinct vaults")

	_, err = store.EscrowVaultAddress("not a token")
	require.Error(t, err)
}
